/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ranking.TxStore (rank table, users, score ledger, completion
  history) using SQLite. In production the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

KEY TABLES:
  ranks:                The tier table (read-only to the engine)
  users:                Current rank reference per user
  score_ledger:         One row per (user, period); the central invariant
  quiz_completions:     Immutable completion history (backfill source)
  reconciliation_runs:  Audit trail of batch reconciliation runs

UNIQUENESS:
  score_ledger carries UNIQUE(user_id, period). The engine also enforces the
  invariant at the application level (serialized upsert), so the index is a
  backstop, not the only line of defense.

CONCURRENCY:
  Uses sync.RWMutex plus WAL mode. SQLite allows one writer at a time;
  contention surfaces as SQLITE_BUSY/LOCKED, which is mapped to
  ranking.ErrLedgerConflict so the ledger service can retry.

USAGE:
  store, err := sqlite.New("./data/rank.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ranking/store.go: Interface definitions
  - ranking/ledger.go: Conflict-retry policy over this store
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/rank-engine/ranking"
)

// Store implements ranking.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: writes are serialized by the store mutex anyway, and
	// a second pooled connection to ":memory:" would see a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Rank tiers (seed/admin data, read-only to the engine)
	CREATE TABLE IF NOT EXISTS ranks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		level INTEGER NOT NULL UNIQUE,
		minimum_points TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Users: only the rank reference is written by this subsystem
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		rank_id TEXT REFERENCES ranks(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_rank ON users(rank_id);

	-- Score ledger: one row per (user, period)
	CREATE TABLE IF NOT EXISTS score_ledger (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		period TEXT NOT NULL,
		total_points TEXT NOT NULL,
		bonus_points TEXT NOT NULL,
		rank_id TEXT REFERENCES ranks(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(user_id, period)
	);

	-- Hot path: lifetime totals and latest-entry lookups
	CREATE INDEX IF NOT EXISTS idx_ledger_user_period
		ON score_ledger(user_id, period DESC);

	-- Completion history (immutable facts, backfill source)
	CREATE TABLE IF NOT EXISTS quiz_completions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		base_points TEXT NOT NULL,
		bonus_points TEXT NOT NULL,
		occurred_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_completions_user
		ON quiz_completions(user_id, occurred_at);

	-- Reconciliation runs (audit of batch rebuilds)
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		policy TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		processed INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		errored INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_status
		ON reconciliation_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer abstracts *sql.DB and *sql.Tx so every query helper works both
// directly and inside WithTx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// RANK STORE (ranking.RankStore interface)
// =============================================================================

func (s *Store) RankTable(ctx context.Context) (*ranking.RankTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rankTable(ctx, s.db)
}

func rankTable(ctx context.Context, db execer) (*ranking.RankTable, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, level, minimum_points FROM ranks ORDER BY level ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranks: %w", err)
	}
	defer rows.Close()

	var ranks []ranking.Rank
	for rows.Next() {
		var r ranking.Rank
		var min string
		if err := rows.Scan(&r.ID, &r.Name, &r.Level, &min); err != nil {
			return nil, fmt.Errorf("failed to scan rank: %w", err)
		}
		r.MinPoints = ranking.ParsePoints(min)
		ranks = append(ranks, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ranks) == 0 {
		return nil, ranking.ErrEmptyRankTable
	}

	return ranking.NewRankTable(ranks)
}

func (s *Store) SaveRanks(ctx context.Context, ranks []ranking.Rank) error {
	// Validate before touching the table.
	if _, err := ranking.NewRankTable(ranks); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ranks`); err != nil {
		return fmt.Errorf("failed to clear ranks: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range ranks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO ranks (id, name, level, minimum_points, created_at) VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.Level, r.MinPoints.String(), now)
		if err != nil {
			return fmt.Errorf("failed to insert rank %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// =============================================================================
// USER STORE (ranking.UserStore interface)
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id ranking.UserID) (ranking.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, db execer, id ranking.UserID) (ranking.User, error) {
	var u ranking.User
	var rankID sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT id, name, rank_id FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &rankID)
	if errors.Is(err, sql.ErrNoRows) {
		return ranking.User{}, fmt.Errorf("user %s: %w", id, ranking.ErrUserNotFound)
	}
	if err != nil {
		return ranking.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	u.RankID = ranking.RankID(rankID.String)
	return u, nil
}

func (s *Store) InsertUser(ctx context.Context, u ranking.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertUser(ctx, s.db, u)
}

func insertUser(ctx context.Context, db execer, u ranking.User) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, name, rank_id, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, nullString(string(u.RankID)), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]ranking.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUsers(ctx, s.db)
}

func listUsers(ctx context.Context, db execer) ([]ranking.User, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, rank_id FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []ranking.User
	for rows.Next() {
		var u ranking.User
		var rankID sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &rankID); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.RankID = ranking.RankID(rankID.String)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) SetUserRank(ctx context.Context, id ranking.UserID, rank ranking.RankID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setUserRank(ctx, s.db, id, rank)
}

func setUserRank(ctx context.Context, db execer, id ranking.UserID, rank ranking.RankID) error {
	res, err := db.ExecContext(ctx, `UPDATE users SET rank_id = ? WHERE id = ?`, rank, id)
	if err != nil {
		return fmt.Errorf("failed to update rank: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, ranking.ErrUserNotFound)
	}
	return nil
}

func (s *Store) CountUsersByRank(ctx context.Context) (map[ranking.RankID]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countUsersByRank(ctx, s.db)
}

func countUsersByRank(ctx context.Context, db execer) (map[ranking.RankID]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT rank_id, COUNT(*) FROM users WHERE rank_id IS NOT NULL GROUP BY rank_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rank distribution: %w", err)
	}
	defer rows.Close()

	counts := make(map[ranking.RankID]int)
	for rows.Next() {
		var id ranking.RankID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// =============================================================================
// LEDGER STORE (ranking.LedgerStore interface)
// =============================================================================

func (s *Store) UpsertPeriodPoints(ctx context.Context, userID ranking.UserID, period ranking.PeriodKey, baseDelta, bonusDelta ranking.Points, defaultRank ranking.RankID) (ranking.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertPeriodPoints(ctx, s.db, userID, period, baseDelta, bonusDelta, defaultRank)
}

// upsertPeriodPoints does the read-modify-write for one (user, period) row.
// The caller holds either the store mutex or a database transaction, so the
// read cannot be invalidated mid-flight within this process; a concurrent
// external writer surfaces as SQLITE_BUSY or a UNIQUE violation, both of
// which map to ErrLedgerConflict for the retry loop upstream.
func upsertPeriodPoints(ctx context.Context, db execer, userID ranking.UserID, period ranking.PeriodKey, baseDelta, bonusDelta ranking.Points, defaultRank ranking.RankID) (ranking.LedgerEntry, error) {
	existing, err := entryForPeriod(ctx, db, userID, period)
	if err != nil {
		return ranking.LedgerEntry{}, err
	}

	now := time.Now().UTC()

	if existing == nil {
		entry := ranking.LedgerEntry{
			ID:          uuid.NewString(),
			UserID:      userID,
			Period:      period,
			BasePoints:  baseDelta,
			BonusPoints: bonusDelta,
			RankID:      defaultRank,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := insertEntry(ctx, db, entry); err != nil {
			return ranking.LedgerEntry{}, err
		}
		return entry, nil
	}

	entry := *existing
	entry.BasePoints = entry.BasePoints.Add(baseDelta)
	entry.BonusPoints = entry.BonusPoints.Add(bonusDelta)
	entry.UpdatedAt = now

	_, err = db.ExecContext(ctx,
		`UPDATE score_ledger SET total_points = ?, bonus_points = ?, updated_at = ? WHERE id = ?`,
		entry.BasePoints.String(), entry.BonusPoints.String(), now.Format(time.RFC3339), entry.ID)
	if err != nil {
		return ranking.LedgerEntry{}, mapWriteError(err, "failed to update ledger entry")
	}
	return entry, nil
}

func entryForPeriod(ctx context.Context, db execer, userID ranking.UserID, period ranking.PeriodKey) (*ranking.LedgerEntry, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, user_id, period, total_points, bonus_points, rank_id, created_at, updated_at
		FROM score_ledger
		WHERE user_id = ? AND period = ?`,
		userID, period.Key())

	entry, err := scanEntryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) InsertEntry(ctx context.Context, e ranking.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEntry(ctx, s.db, e)
}

func insertEntry(ctx context.Context, db execer, e ranking.LedgerEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO score_ledger
		(id, user_id, period, total_points, bonus_points, rank_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.UserID,
		e.Period.Key(),
		e.BasePoints.String(),
		e.BonusPoints.String(),
		nullString(string(e.RankID)),
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return mapWriteError(err, "failed to insert ledger entry")
	}
	return nil
}

func (s *Store) DeleteEntries(ctx context.Context, userID ranking.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEntries(ctx, s.db, userID)
}

func deleteEntries(ctx context.Context, db execer, userID ranking.UserID) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM score_ledger WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ledger entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) Entries(ctx context.Context, userID ranking.UserID) ([]ranking.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entries(ctx, s.db, userID)
}

func entries(ctx context.Context, db execer, userID ranking.UserID) ([]ranking.LedgerEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, period, total_points, bonus_points, rank_id, created_at, updated_at
		FROM score_ledger
		WHERE user_id = ?
		ORDER BY period ASC, created_at ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ranking.LedgerEntry
	for rows.Next() {
		entry, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

func (s *Store) LatestEntry(ctx context.Context, userID ranking.UserID) (*ranking.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestEntry(ctx, s.db, userID)
}

func latestEntry(ctx context.Context, db execer, userID ranking.UserID) (*ranking.LedgerEntry, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, user_id, period, total_points, bonus_points, rank_id, created_at, updated_at
		FROM score_ledger
		WHERE user_id = ?
		ORDER BY period DESC, created_at DESC, id DESC
		LIMIT 1`,
		userID)

	entry, err := scanEntryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) SetEntryRank(ctx context.Context, entryID string, rank ranking.RankID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setEntryRank(ctx, s.db, entryID, rank)
}

func setEntryRank(ctx context.Context, db execer, entryID string, rank ranking.RankID) error {
	_, err := db.ExecContext(ctx,
		`UPDATE score_ledger SET rank_id = ? WHERE id = ?`, rank, entryID)
	if err != nil {
		return fmt.Errorf("failed to update entry rank: %w", err)
	}
	return nil
}

func (s *Store) LifetimeTotal(ctx context.Context, userID ranking.UserID) (ranking.Points, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lifetimeTotal(ctx, s.db, userID)
}

// lifetimeTotal sums in Go: points are stored as canonical decimal strings,
// which SQLite cannot add exactly.
func lifetimeTotal(ctx context.Context, db execer, userID ranking.UserID) (ranking.Points, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT total_points, bonus_points FROM score_ledger WHERE user_id = ?`, userID)
	if err != nil {
		return ranking.Points{}, fmt.Errorf("failed to query lifetime total: %w", err)
	}
	defer rows.Close()

	total := ranking.ZeroPoints()
	for rows.Next() {
		var base, bonus string
		if err := rows.Scan(&base, &bonus); err != nil {
			return ranking.Points{}, err
		}
		total = total.Add(ranking.ParsePoints(base)).Add(ranking.ParsePoints(bonus))
	}
	return total, rows.Err()
}

func (s *Store) HasEntries(ctx context.Context, userID ranking.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasEntries(ctx, s.db, userID)
}

func hasEntries(ctx context.Context, db execer, userID ranking.UserID) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM score_ledger WHERE user_id = ?`, userID,
	).Scan(&count)
	return count > 0, err
}

func scanEntryRow(row interface{ Scan(...any) error }) (*ranking.LedgerEntry, error) {
	var (
		e         ranking.LedgerEntry
		period    string
		base      string
		bonus     string
		rankID    sql.NullString
		createdAt string
		updatedAt string
	)

	err := row.Scan(&e.ID, &e.UserID, &period, &base, &bonus, &rankID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p, err := ranking.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	e.Period = p
	e.BasePoints = ranking.ParsePoints(base)
	e.BonusPoints = ranking.ParsePoints(bonus)
	e.RankID = ranking.RankID(rankID.String)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &e, nil
}

// =============================================================================
// COMPLETION STORE (ranking.CompletionStore interface)
// =============================================================================

func (s *Store) InsertCompletion(ctx context.Context, c ranking.QuizCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertCompletion(ctx, s.db, c)
}

func insertCompletion(ctx context.Context, db execer, c ranking.QuizCompletion) error {
	var occurredAt sql.NullString
	if !c.OccurredAt.IsZero() {
		occurredAt = sql.NullString{String: c.OccurredAt.UTC().Format(time.RFC3339), Valid: true}
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO quiz_completions (id, user_id, base_points, bonus_points, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.BasePoints.String(), c.BonusPoints.String(),
		occurredAt, createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("completion %s: %w", c.ID, ranking.ErrDuplicateCompletion)
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("user %s: %w", c.UserID, ranking.ErrUserNotFound)
		}
		return fmt.Errorf("failed to insert completion: %w", err)
	}
	return nil
}

func (s *Store) CompletionsByUser(ctx context.Context, userID ranking.UserID) ([]ranking.QuizCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return completionsByUser(ctx, s.db, userID)
}

func completionsByUser(ctx context.Context, db execer, userID ranking.UserID) ([]ranking.QuizCompletion, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, base_points, bonus_points, occurred_at, created_at
		FROM quiz_completions
		WHERE user_id = ?
		ORDER BY occurred_at ASC, created_at ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query completions: %w", err)
	}
	defer rows.Close()

	var out []ranking.QuizCompletion
	for rows.Next() {
		var c ranking.QuizCompletion
		var base, bonus, createdAt string
		var occurredAt sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &base, &bonus, &occurredAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		c.BasePoints = ranking.ParsePoints(base)
		c.BonusPoints = ranking.ParsePoints(bonus)
		if occurredAt.Valid {
			c.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt.String)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ranking.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ranking.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every Store call through the open transaction. No mutex:
// the parent holds it for the duration of WithTx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) RankTable(ctx context.Context) (*ranking.RankTable, error) {
	return rankTable(ctx, ts.tx)
}

func (ts *txStore) SaveRanks(ctx context.Context, ranks []ranking.Rank) error {
	return fmt.Errorf("SaveRanks is not supported inside a transaction")
}

func (ts *txStore) GetUser(ctx context.Context, id ranking.UserID) (ranking.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) InsertUser(ctx context.Context, u ranking.User) error {
	return insertUser(ctx, ts.tx, u)
}

func (ts *txStore) ListUsers(ctx context.Context) ([]ranking.User, error) {
	return listUsers(ctx, ts.tx)
}

func (ts *txStore) SetUserRank(ctx context.Context, id ranking.UserID, rank ranking.RankID) error {
	return setUserRank(ctx, ts.tx, id, rank)
}

func (ts *txStore) CountUsersByRank(ctx context.Context) (map[ranking.RankID]int, error) {
	return countUsersByRank(ctx, ts.tx)
}

func (ts *txStore) UpsertPeriodPoints(ctx context.Context, userID ranking.UserID, period ranking.PeriodKey, baseDelta, bonusDelta ranking.Points, defaultRank ranking.RankID) (ranking.LedgerEntry, error) {
	return upsertPeriodPoints(ctx, ts.tx, userID, period, baseDelta, bonusDelta, defaultRank)
}

func (ts *txStore) InsertEntry(ctx context.Context, e ranking.LedgerEntry) error {
	return insertEntry(ctx, ts.tx, e)
}

func (ts *txStore) DeleteEntries(ctx context.Context, userID ranking.UserID) (int, error) {
	return deleteEntries(ctx, ts.tx, userID)
}

func (ts *txStore) Entries(ctx context.Context, userID ranking.UserID) ([]ranking.LedgerEntry, error) {
	return entries(ctx, ts.tx, userID)
}

func (ts *txStore) LatestEntry(ctx context.Context, userID ranking.UserID) (*ranking.LedgerEntry, error) {
	return latestEntry(ctx, ts.tx, userID)
}

func (ts *txStore) SetEntryRank(ctx context.Context, entryID string, rank ranking.RankID) error {
	return setEntryRank(ctx, ts.tx, entryID, rank)
}

func (ts *txStore) LifetimeTotal(ctx context.Context, userID ranking.UserID) (ranking.Points, error) {
	return lifetimeTotal(ctx, ts.tx, userID)
}

func (ts *txStore) HasEntries(ctx context.Context, userID ranking.UserID) (bool, error) {
	return hasEntries(ctx, ts.tx, userID)
}

func (ts *txStore) InsertCompletion(ctx context.Context, c ranking.QuizCompletion) error {
	return insertCompletion(ctx, ts.tx, c)
}

func (ts *txStore) CompletionsByUser(ctx context.Context, userID ranking.UserID) ([]ranking.QuizCompletion, error) {
	return completionsByUser(ctx, ts.tx, userID)
}

// =============================================================================
// RECONCILIATION RUNS - Audit of batch rebuilds
// =============================================================================

// ReconciliationRun records one batch invocation for audit and UI display.
type ReconciliationRun struct {
	ID          string
	Scope       string // "all" or the target user id
	Policy      string // "skip_if_present" or "force_rebuild"
	Status      string // pending / running / completed / failed
	Processed   int
	Updated     int
	Skipped     int
	Errored     int
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// SaveReconciliationRun inserts or updates a run record.
func (s *Store) SaveReconciliationRun(ctx context.Context, run ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs
		(id, scope, policy, status, processed, updated, skipped, errored, error, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			updated = excluded.updated,
			skipped = excluded.skipped,
			errored = excluded.errored,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		run.ID, run.Scope, run.Policy, run.Status,
		run.Processed, run.Updated, run.Skipped, run.Errored,
		nullString(run.Error),
		nullTime(run.StartedAt), nullTime(run.CompletedAt),
		run.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

// ListReconciliationRuns returns runs, most recent first.
func (s *Store) ListReconciliationRuns(ctx context.Context, limit int) ([]ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, policy, status, processed, updated, skipped, errored, error, started_at, completed_at, created_at
		FROM reconciliation_runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}
	defer rows.Close()

	var runs []ReconciliationRun
	for rows.Next() {
		var r ReconciliationRun
		var errMsg, startedAt, completedAt sql.NullString
		var createdAt string
		if err := rows.Scan(
			&r.ID, &r.Scope, &r.Policy, &r.Status,
			&r.Processed, &r.Updated, &r.Skipped, &r.Errored,
			&errMsg, &startedAt, &completedAt, &createdAt,
		); err != nil {
			return nil, err
		}
		r.Error = errMsg.String
		if startedAt.Valid {
			t, _ := time.Parse(time.RFC3339, startedAt.String)
			r.StartedAt = &t
		}
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			r.CompletedAt = &t
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func mapWriteError(err error, msg string) error {
	switch {
	case isUniqueConstraintError(err):
		// A concurrent writer created the row between our read and write.
		return fmt.Errorf("%s: %w", msg, ranking.ErrLedgerConflict)
	case isBusyError(err):
		return fmt.Errorf("%s: %w", msg, ranking.ErrLedgerConflict)
	case isForeignKeyError(err):
		return fmt.Errorf("%s: %w", msg, ranking.ErrUserNotFound)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isBusyError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "database table is locked"))
}
