/*
ledger.go - Score ledger service

PURPOSE:
  RecordPeriodPoints is the single live write path for period rows: every
  increment outside the backfill, whether it comes through the ScoreLedger
  service or the ingestion unit of work, goes through it. The ScoreLedger
  adds a bounded conflict-retry loop on top, so its callers see either a
  committed increment or a clear failure - never a silently dropped delta.

CONCURRENCY:
  Two completions for the same user in the same month must never produce
  two rows or lose an increment. The store serializes the read-modify-write
  per (user, period); when it reports ErrLedgerConflict instead, the upsert
  is retried here up to maxUpsertRetries times.
*/
package ranking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	maxUpsertRetries = 5
	retryBaseDelay   = 5 * time.Millisecond
)

type ScoreLedger struct {
	store TxStore
}

func NewScoreLedger(store TxStore) *ScoreLedger {
	return &ScoreLedger{store: store}
}

// Record adds base/bonus deltas to the user's row for the period, creating
// the row on first use. The new row's rank snapshot defaults to the user's
// current rank, or the lowest tier if the user has none yet. Write conflicts
// are retried with a small linear backoff.
func (l *ScoreLedger) Record(ctx context.Context, table *RankTable, userID UserID, period PeriodKey, baseDelta, bonusDelta Points) (LedgerEntry, error) {
	for attempt := 1; attempt <= maxUpsertRetries; attempt++ {
		entry, err := RecordPeriodPoints(ctx, l.store, table, userID, period, baseDelta, bonusDelta)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrLedgerConflict) {
			return LedgerEntry{}, err
		}

		select {
		case <-ctx.Done():
			return LedgerEntry{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBaseDelay):
		}
	}

	return LedgerEntry{}, &ConflictError{UserID: userID, Period: period, Attempts: maxUpsertRetries}
}

// RecordPeriodPoints is the single write path for live point increments:
// validate the deltas, resolve the default rank snapshot (the user's current
// rank, or the lowest tier for an unranked user), then upsert the period
// row. It makes exactly one attempt; transactional callers let the conflict
// abort the unit of work, non-transactional callers retry around it.
func RecordPeriodPoints(ctx context.Context, s Store, table *RankTable, userID UserID, period PeriodKey, baseDelta, bonusDelta Points) (LedgerEntry, error) {
	if baseDelta.IsNegative() || bonusDelta.IsNegative() {
		return LedgerEntry{}, fmt.Errorf("%w: negative point delta", ErrInvalidCompletion)
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return LedgerEntry{}, err
	}

	defaultRank := user.RankID
	if defaultRank == "" {
		defaultRank = table.Lowest().ID
	}

	return s.UpsertPeriodPoints(ctx, userID, period, baseDelta, bonusDelta, defaultRank)
}

// LifetimeTotal sums base+bonus across all of the user's periods.
func (l *ScoreLedger) LifetimeTotal(ctx context.Context, userID UserID) (Points, error) {
	return l.store.LifetimeTotal(ctx, userID)
}

// Entries returns the user's rows ordered by period.
func (l *ScoreLedger) Entries(ctx context.Context, userID UserID) ([]LedgerEntry, error) {
	return l.store.Entries(ctx, userID)
}
