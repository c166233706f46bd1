/*
resolver.go - Rank table lookup and rank recompute

PURPOSE:
  ResolveRank is the pure function at the heart of the engine: lifetime
  total in, rank tier out. ApplyRank is its transactional wrapper: recompute
  a user's total, resolve, and persist the new rank only if it changed.

WHY AN INJECTED TABLE?
  The rank table is passed in as a validated snapshot rather than read from
  ambient state, so resolution is a deterministic function of
  (table, total) and independently testable.

IDEMPOTENCY:
  ApplyRank called twice with no intervening ledger change is a no-op the
  second time: same total, same resolved rank, no writes, Changed=false.
*/
package ranking

import (
	"context"
	"fmt"
	"sort"
)

// =============================================================================
// RANK TABLE - Ordered, validated snapshot of the configured tiers
// =============================================================================

// RankTable is an immutable, ordered set of rank tiers.
//
// INVARIANTS (checked by NewRankTable):
//   - at least one tier
//   - levels strictly increasing, thresholds strictly increasing with level
//   - the lowest level has threshold 0 (catch-all floor)
type RankTable struct {
	ranks []Rank // sorted by level ascending
}

func NewRankTable(ranks []Rank) (*RankTable, error) {
	if len(ranks) == 0 {
		return nil, ErrEmptyRankTable
	}

	sorted := make([]Rank, len(ranks))
	copy(sorted, ranks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })

	if !sorted[0].MinPoints.IsZero() {
		return nil, &RankTableError{Level: sorted[0].Level, Reason: "lowest level must have threshold 0"}
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Level == sorted[i-1].Level {
			return nil, &RankTableError{Level: sorted[i].Level, Reason: "duplicate level"}
		}
		if !sorted[i].MinPoints.GreaterThan(sorted[i-1].MinPoints) {
			return nil, &RankTableError{Level: sorted[i].Level, Reason: "threshold not increasing with level"}
		}
	}

	return &RankTable{ranks: sorted}, nil
}

// Ranks returns the tiers ordered by level ascending.
func (t *RankTable) Ranks() []Rank {
	out := make([]Rank, len(t.ranks))
	copy(out, t.ranks)
	return out
}

func (t *RankTable) Len() int { return len(t.ranks) }

// Lowest returns the level-1 catch-all tier.
func (t *RankTable) Lowest() Rank { return t.ranks[0] }

// ByID looks up a tier by identifier.
func (t *RankTable) ByID(id RankID) (Rank, bool) {
	for _, r := range t.ranks {
		if r.ID == id {
			return r, true
		}
	}
	return Rank{}, false
}

// Resolve returns the rank with the greatest threshold <= total: the
// highest tier the total qualifies for. A negative total (should not occur)
// falls back to the lowest tier.
func (t *RankTable) Resolve(total Points) Rank {
	best := t.ranks[0]
	for _, r := range t.ranks[1:] {
		if total.GreaterOrEqual(r.MinPoints) {
			best = r
		}
	}
	return best
}

// =============================================================================
// APPLY RANK - Transactional recompute
// =============================================================================

// ApplyRank recomputes the user's lifetime total, resolves the rank, and -
// only if it differs from the stored rank - updates the user's rank
// reference and the rank snapshot on the most recent ledger entry.
//
// Callers run it inside the same unit of work as the ledger write that
// triggered it, passing the transaction-scoped Store.
func ApplyRank(ctx context.Context, s Store, table *RankTable, userID UserID) (RankChange, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return RankChange{}, err
	}

	total, err := s.LifetimeTotal(ctx, userID)
	if err != nil {
		return RankChange{}, fmt.Errorf("lifetime total for %s: %w", userID, err)
	}

	resolved := table.Resolve(total)
	change := RankChange{
		UserID:        userID,
		OldRankID:     user.RankID,
		NewRank:       resolved,
		LifetimeTotal: total,
	}

	if user.RankID == resolved.ID {
		return change, nil
	}
	change.Changed = true

	if err := s.SetUserRank(ctx, userID, resolved.ID); err != nil {
		return RankChange{}, fmt.Errorf("set rank for %s: %w", userID, err)
	}

	latest, err := s.LatestEntry(ctx, userID)
	if err != nil {
		return RankChange{}, fmt.Errorf("latest entry for %s: %w", userID, err)
	}
	if latest != nil {
		if err := s.SetEntryRank(ctx, latest.ID, resolved.ID); err != nil {
			return RankChange{}, fmt.Errorf("stamp entry %s: %w", latest.ID, err)
		}
	}

	return change, nil
}
