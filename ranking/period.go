package ranking

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD KEY - Calendar-month bucket for ledger rows
// =============================================================================

// PeriodKey identifies a calendar month, normalized to the first of the
// month at midnight UTC. Ledger rows are keyed by (user, PeriodKey).
//
// Both the live ingestion path and the backfill derive the period from the
// completion record's own OccurredAt timestamp, so a late-delivered
// completion lands in the same month no matter which path processes it.
type PeriodKey struct {
	Start time.Time
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) PeriodKey {
	u := t.UTC()
	return PeriodKey{Start: time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)}
}

// NewPeriod constructs a period for an explicit year and month.
func NewPeriod(year int, month time.Month) PeriodKey {
	return PeriodKey{Start: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)}
}

// ParsePeriod parses the stored "2006-01-02" form (always a first-of-month).
func ParsePeriod(s string) (PeriodKey, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return PeriodKey{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return PeriodOf(t), nil
}

func (p PeriodKey) IsZero() bool            { return p.Start.IsZero() }
func (p PeriodKey) Equal(o PeriodKey) bool  { return p.Start.Equal(o.Start) }
func (p PeriodKey) Before(o PeriodKey) bool { return p.Start.Before(o.Start) }
func (p PeriodKey) After(o PeriodKey) bool  { return p.Start.After(o.Start) }

// Next returns the following calendar month.
func (p PeriodKey) Next() PeriodKey {
	return PeriodKey{Start: p.Start.AddDate(0, 1, 0)}
}

// End returns the last day of the month at midnight UTC.
func (p PeriodKey) End() time.Time {
	return p.Start.AddDate(0, 1, -1)
}

// Contains returns true if t falls within this calendar month.
func (p PeriodKey) Contains(t time.Time) bool {
	return PeriodOf(t).Equal(p)
}

// Key returns the canonical stored form, "2006-01-02" of the first of the
// month. Lexicographic order equals chronological order.
func (p PeriodKey) Key() string {
	return p.Start.Format("2006-01-02")
}

// String returns the human form, e.g. "2026-03".
func (p PeriodKey) String() string {
	return p.Start.Format("2006-01")
}
