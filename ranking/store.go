/*
store.go - Persistence interfaces for the ranking engine

PURPOSE:
  Defines the contract between the domain logic and the database. The engine
  exclusively owns the score ledger; the rank table is read-only; the user's
  rank reference is the one piece of shared state this subsystem writes.

KEY INTERFACES:
  RankStore:       Read-only rank table snapshot
  UserStore:       User lookup and rank-reference writes
  LedgerStore:     Ledger rows (upsert, backfill insert, force-resync delete)
  CompletionStore: The immutable completion history
  TxStore:         Atomic unit-of-work wrapper

ATOMICITY:
  Every mutation of the ledger or a user's rank happens inside WithTx.
  Nothing is read-then-written outside a transaction boundary.

IMPLEMENTATIONS:
  - store/sqlite: production store (also used in-memory by tests)
*/
package ranking

import "context"

// RankStore provides the read-only rank table. The engine never creates or
// mutates ranks; they are seed/admin data.
type RankStore interface {
	// RankTable returns a validated snapshot of the configured tiers.
	// Returns ErrEmptyRankTable if no tiers are configured.
	RankTable(ctx context.Context) (*RankTable, error)

	// SaveRanks replaces the configured tiers. Seed/admin use only.
	SaveRanks(ctx context.Context, ranks []Rank) error
}

type UserStore interface {
	GetUser(ctx context.Context, id UserID) (User, error)
	InsertUser(ctx context.Context, u User) error
	ListUsers(ctx context.Context) ([]User, error)

	// SetUserRank updates the user's current rank reference.
	// Written only by ApplyRank.
	SetUserRank(ctx context.Context, id UserID, rank RankID) error

	// CountUsersByRank returns the number of users holding each rank.
	CountUsersByRank(ctx context.Context) (map[RankID]int, error)
}

type LedgerStore interface {
	// UpsertPeriodPoints creates the (user, period) row initialized to the
	// deltas, or adds the deltas to the existing row. defaultRank seeds the
	// rank reference on first creation. Returns ErrLedgerConflict when a
	// concurrent writer invalidated the attempt; callers retry.
	UpsertPeriodPoints(ctx context.Context, userID UserID, period PeriodKey, baseDelta, bonusDelta Points, defaultRank RankID) (LedgerEntry, error)

	// InsertEntry inserts a fully formed row. Backfill use only: the row's
	// CreatedAt is the synthetic first-of-month time for its period.
	InsertEntry(ctx context.Context, e LedgerEntry) error

	// DeleteEntries removes all of a user's rows. Force-resync use only.
	DeleteEntries(ctx context.Context, userID UserID) (int, error)

	// Entries returns all of a user's rows ordered by period ascending.
	Entries(ctx context.Context, userID UserID) ([]LedgerEntry, error)

	// LatestEntry returns the most recent row by period, ties broken by
	// latest creation then id. Returns nil if the user has no rows.
	LatestEntry(ctx context.Context, userID UserID) (*LedgerEntry, error)

	// SetEntryRank updates the rank snapshot on one row.
	SetEntryRank(ctx context.Context, entryID string, rank RankID) error

	// LifetimeTotal sums base+bonus across all of a user's rows.
	LifetimeTotal(ctx context.Context, userID UserID) (Points, error)

	// HasEntries reports whether the user has any ledger rows.
	HasEntries(ctx context.Context, userID UserID) (bool, error)
}

type CompletionStore interface {
	// InsertCompletion records a finalized completion. Returns
	// ErrDuplicateCompletion if the ID was already ingested.
	InsertCompletion(ctx context.Context, c QuizCompletion) error

	// CompletionsByUser returns the user's full completion history,
	// ordered by occurrence time ascending.
	CompletionsByUser(ctx context.Context, userID UserID) ([]QuizCompletion, error)
}

// Store bundles every capability the engine needs.
type Store interface {
	RankStore
	UserStore
	LedgerStore
	CompletionStore
}

// TxStore wraps Store with transaction support.
//
// WithTx executes fn within a transaction: error means rollback, nil means
// commit. The Store passed to fn sees and writes only transaction state.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
