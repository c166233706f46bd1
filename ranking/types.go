/*
Package ranking provides the score ledger and rank assignment engine.

PURPOSE:
  This package contains the domain types and algorithms for converting
  finalized quiz-completion records into monthly score-ledger rows and for
  deriving each user's rank tier from their lifetime point total.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: A non-negative point quantity (decimal-backed, no float drift)
  - Rank: A named tier with an ordinal level and a minimum-point threshold
  - RankTable: The ordered, read-only set of tiers (injected, never ambient)
  - LedgerEntry: One row of accumulated points per user per calendar month
  - QuizCompletion: An immutable, externally produced completion record

DESIGN PRINCIPLES:
  1. One ledger row per (user, period) - the central uniqueness invariant
  2. Rank is always derived: lifetime total -> table lookup, never stored math
  3. Precision: decimal.Decimal for point arithmetic, persisted canonically
  4. The RankTable is a dependency handed to callers, not global state

SEE ALSO:
  - period.go: Calendar-month period keys
  - ledger.go: The upsert/total service over the stores
  - resolver.go: ResolveRank and ApplyRank
*/
package ranking

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POINTS - Quantity of quiz points
// =============================================================================

type Points struct {
	Value decimal.Decimal
}

func NewPoints(v int64) Points {
	return Points{Value: decimal.NewFromInt(v)}
}

func ZeroPoints() Points {
	return Points{Value: decimal.Zero}
}

// ParsePoints parses the canonical stored representation. Malformed input
// yields zero rather than an error; stored values are engine-written and a
// corrupt row should degrade, not crash, a batch run.
func ParsePoints(s string) Points {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroPoints()
	}
	return Points{Value: d}
}

func (p Points) Add(o Points) Points          { return Points{Value: p.Value.Add(o.Value)} }
func (p Points) IsZero() bool                 { return p.Value.IsZero() }
func (p Points) IsNegative() bool             { return p.Value.IsNegative() }
func (p Points) Equal(o Points) bool          { return p.Value.Equal(o.Value) }
func (p Points) GreaterThan(o Points) bool    { return p.Value.GreaterThan(o.Value) }
func (p Points) GreaterOrEqual(o Points) bool { return p.Value.GreaterThanOrEqual(o.Value) }
func (p Points) String() string               { return p.Value.String() }

// MarshalJSON renders the canonical decimal string, e.g. "1200".
func (p Points) MarshalJSON() ([]byte, error) { return p.Value.MarshalJSON() }

func (p *Points) UnmarshalJSON(b []byte) error { return p.Value.UnmarshalJSON(b) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type RankID string

// =============================================================================
// RANK - A tier in the rank table
// =============================================================================

type Rank struct {
	ID        RankID
	Name      string
	Level     int
	MinPoints Points
}

// IsZero reports whether this is the absent rank (user not yet ranked).
func (r Rank) IsZero() bool { return r.ID == "" }

// =============================================================================
// USER - The subset of user state this subsystem reads and writes
// =============================================================================

// User carries the current rank reference. The rank reference is written
// exclusively by ApplyRank; everything else about a user is owned elsewhere.
type User struct {
	ID     UserID
	Name   string
	RankID RankID // empty until first rank assignment
}

// =============================================================================
// LEDGER ENTRY - One row per user per calendar-month period
// =============================================================================

// LedgerEntry accumulates a user's points for one period.
//
// INVARIANT: at most one entry exists per (user, period). The store enforces
// this with a unique index and the upsert path must never create a second row.
//
// BasePoints and BonusPoints are persisted as total_points and bonus_points;
// the lifetime total is always the sum of both across all of a user's rows.
type LedgerEntry struct {
	ID          string
	UserID      UserID
	Period      PeriodKey
	BasePoints  Points
	BonusPoints Points
	RankID      RankID // rank as of the last recompute, snapshot only
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TotalPoints returns base + bonus for this period.
func (e LedgerEntry) TotalPoints() Points {
	return e.BasePoints.Add(e.BonusPoints)
}

// =============================================================================
// QUIZ COMPLETION - External, read-only input
// =============================================================================

// QuizCompletion is a finalized quiz result. The engine never mutates one;
// it is the immutable history that both the live path and the backfill
// replay into ledger rows. ID doubles as the ingestion idempotency key.
type QuizCompletion struct {
	ID          string
	UserID      UserID
	BasePoints  Points
	BonusPoints Points
	OccurredAt  time.Time // zero means unknown; callers fall back to now
	CreatedAt   time.Time
}

// =============================================================================
// RANK CHANGE - Result of an ApplyRank recompute
// =============================================================================

type RankChange struct {
	UserID        UserID
	Changed       bool
	OldRankID     RankID // empty if the user had no rank before
	NewRank       Rank
	LifetimeTotal Points
}
