package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rank-engine/ranking"
	"github.com/warp/rank-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveRanks(ctx, ranking.DefaultRanks()))
	require.NoError(t, store.InsertUser(ctx, ranking.User{ID: "user-1", Name: "User One"}))
	return store
}

func entry(userID string, period ranking.PeriodKey, base int64, id string) ranking.LedgerEntry {
	now := time.Now().UTC()
	return ranking.LedgerEntry{
		ID:         id,
		UserID:     ranking.UserID(userID),
		Period:     period,
		BasePoints: ranking.NewPoints(base),
		RankID:     "bronze",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// =============================================================================
// DATABASE CONSTRAINT TESTS
// =============================================================================

func TestConstraint_OneRowPerUserPerPeriod(t *testing.T) {
	// The UNIQUE(user_id, period) index is the last line of defense against
	// duplicate rows; a direct second insert must fail as a write conflict.

	store := newStore(t)
	ctx := context.Background()
	march := ranking.NewPeriod(2025, time.March)

	require.NoError(t, store.InsertEntry(ctx, entry("user-1", march, 100, "row-1")))

	err := store.InsertEntry(ctx, entry("user-1", march, 200, "row-2"))
	assert.ErrorIs(t, err, ranking.ErrLedgerConflict)
}

func TestConstraint_DifferentPeriods_Allowed(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertEntry(ctx, entry("user-1", ranking.NewPeriod(2025, time.March), 100, "row-1")))
	require.NoError(t, store.InsertEntry(ctx, entry("user-1", ranking.NewPeriod(2025, time.April), 100, "row-2")))
}

func TestConstraint_UnknownUser_ForeignKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.InsertEntry(ctx, entry("ghost", ranking.NewPeriod(2025, time.March), 100, "row-1"))
	assert.ErrorIs(t, err, ranking.ErrUserNotFound)
}

func TestConstraint_DuplicateCompletionID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	c := ranking.QuizCompletion{ID: "q-1", UserID: "user-1", BasePoints: ranking.NewPoints(10)}
	require.NoError(t, store.InsertCompletion(ctx, c))

	err := store.InsertCompletion(ctx, c)
	assert.ErrorIs(t, err, ranking.ErrDuplicateCompletion)
}

// =============================================================================
// UPSERT TESTS
// =============================================================================

func TestUpsertPeriodPoints_InsertThenIncrement(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	march := ranking.NewPeriod(2025, time.March)

	first, err := store.UpsertPeriodPoints(ctx, "user-1", march,
		ranking.NewPoints(300), ranking.NewPoints(10), "bronze")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, ranking.RankID("bronze"), first.RankID)

	second, err := store.UpsertPeriodPoints(ctx, "user-1", march,
		ranking.NewPoints(450), ranking.NewPoints(5), "bronze")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.BasePoints.Equal(ranking.NewPoints(750)))
	assert.True(t, second.BonusPoints.Equal(ranking.NewPoints(15)))
}

func TestUpsertPeriodPoints_DoesNotOverwriteRankOnIncrement(t *testing.T) {
	// The rank snapshot belongs to the rank recompute; point increments
	// must leave it alone.

	store := newStore(t)
	ctx := context.Background()
	march := ranking.NewPeriod(2025, time.March)

	first, err := store.UpsertPeriodPoints(ctx, "user-1", march,
		ranking.NewPoints(100), ranking.ZeroPoints(), "bronze")
	require.NoError(t, err)

	require.NoError(t, store.SetEntryRank(ctx, first.ID, "silver"))

	second, err := store.UpsertPeriodPoints(ctx, "user-1", march,
		ranking.NewPoints(100), ranking.ZeroPoints(), "bronze")
	require.NoError(t, err)
	assert.Equal(t, ranking.RankID("silver"), second.RankID)
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestLatestEntry_PicksMostRecentPeriod(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertEntry(ctx, entry("user-1", ranking.NewPeriod(2025, time.January), 100, "row-jan")))
	require.NoError(t, store.InsertEntry(ctx, entry("user-1", ranking.NewPeriod(2025, time.March), 100, "row-mar")))
	require.NoError(t, store.InsertEntry(ctx, entry("user-1", ranking.NewPeriod(2025, time.February), 100, "row-feb")))

	latest, err := store.LatestEntry(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "row-mar", latest.ID)
}

func TestLatestEntry_NoRows_ReturnsNil(t *testing.T) {
	store := newStore(t)

	latest, err := store.LatestEntry(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestLifetimeTotal_SumsAllPeriods(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.UpsertPeriodPoints(ctx, "user-1", ranking.NewPeriod(2025, time.January),
		ranking.NewPoints(100), ranking.NewPoints(20), "bronze")
	require.NoError(t, err)
	_, err = store.UpsertPeriodPoints(ctx, "user-1", ranking.NewPeriod(2025, time.February),
		ranking.NewPoints(300), ranking.NewPoints(0), "bronze")
	require.NoError(t, err)

	total, err := store.LifetimeTotal(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, total.Equal(ranking.NewPoints(420)))
}

func TestLifetimeTotal_NoRows_IsZero(t *testing.T) {
	store := newStore(t)

	total, err := store.LifetimeTotal(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestRankTable_RoundTrips(t *testing.T) {
	store := newStore(t)

	table, err := store.RankTable(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, table.Len())
	assert.Equal(t, ranking.RankID("bronze"), table.Lowest().ID)

	silver, ok := table.ByID("silver")
	require.True(t, ok)
	assert.True(t, silver.MinPoints.Equal(ranking.NewPoints(1000)))
}

func TestRankTable_Empty(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.RankTable(context.Background())
	assert.ErrorIs(t, err, ranking.ErrEmptyRankTable)
}

func TestSaveRanks_RejectsInvalidTable(t *testing.T) {
	store := newStore(t)

	err := store.SaveRanks(context.Background(), []ranking.Rank{
		{ID: "only", Level: 1, MinPoints: ranking.NewPoints(500)},
	})
	assert.ErrorIs(t, err, ranking.ErrInvalidRankTable)

	// The previous table must survive a rejected save.
	table, err := store.RankTable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, table.Len())
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	march := ranking.NewPeriod(2025, time.March)

	sentinel := errors.New("boom")
	err := store.WithTx(ctx, func(s ranking.Store) error {
		if _, err := s.UpsertPeriodPoints(ctx, "user-1", march,
			ranking.NewPoints(100), ranking.ZeroPoints(), "bronze"); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	entries, err := store.Entries(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "rolled-back writes must not be visible")
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	march := ranking.NewPeriod(2025, time.March)

	err := store.WithTx(ctx, func(s ranking.Store) error {
		_, err := s.UpsertPeriodPoints(ctx, "user-1", march,
			ranking.NewPoints(100), ranking.ZeroPoints(), "bronze")
		return err
	})
	require.NoError(t, err)

	entries, err := store.Entries(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// RECONCILIATION RUN AUDIT TESTS
// =============================================================================

func TestReconciliationRuns_SaveAndList(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	run := sqlite.ReconciliationRun{
		ID:        "run-1",
		Scope:     "all",
		Policy:    "skip_if_present",
		Status:    "running",
		StartedAt: &started,
		CreatedAt: started,
	}
	require.NoError(t, store.SaveReconciliationRun(ctx, run))

	// Second save with the same ID updates in place.
	completed := started.Add(time.Minute)
	run.Status = "completed"
	run.Processed = 3
	run.Updated = 2
	run.Skipped = 1
	run.CompletedAt = &completed
	require.NoError(t, store.SaveReconciliationRun(ctx, run))

	runs, err := store.ListReconciliationRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, 3, got.Processed)
	assert.Equal(t, 2, got.Updated)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completed))
}
