package ranking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rank-engine/ranking"
)

// =============================================================================
// UPSERT SEMANTICS TESTS
// =============================================================================

func TestScoreLedger_Record_CreatesRowOnFirstUse(t *testing.T) {
	// GIVEN: A user with no row for March
	// WHEN: Recording 300 base + 50 bonus points
	// THEN: Exactly one row exists with those totals and the floor rank snapshot

	store := newTestStore(t)
	table := seedRanksAndUser(t, store, "user-1")
	ctx := context.Background()
	ledger := ranking.NewScoreLedger(store)

	march := ranking.NewPeriod(2025, time.March)
	entry, err := ledger.Record(ctx, table, "user-1", march, ranking.NewPoints(300), ranking.NewPoints(50))
	require.NoError(t, err)

	assert.True(t, entry.BasePoints.Equal(ranking.NewPoints(300)))
	assert.True(t, entry.BonusPoints.Equal(ranking.NewPoints(50)))
	assert.True(t, entry.TotalPoints().Equal(ranking.NewPoints(350)))
	assert.Equal(t, ranking.RankID("novice"), entry.RankID)

	entries, err := ledger.Entries(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestScoreLedger_Record_IncrementsExistingRow(t *testing.T) {
	// GIVEN: A March row with 300 points
	// WHEN: Recording another 450 for March
	// THEN: Still one row, totaling 750

	store := newTestStore(t)
	table := seedRanksAndUser(t, store, "user-1")
	ctx := context.Background()
	ledger := ranking.NewScoreLedger(store)

	march := ranking.NewPeriod(2025, time.March)
	first, err := ledger.Record(ctx, table, "user-1", march, ranking.NewPoints(300), ranking.ZeroPoints())
	require.NoError(t, err)

	second, err := ledger.Record(ctx, table, "user-1", march, ranking.NewPoints(450), ranking.ZeroPoints())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "increment must reuse the existing row")
	assert.True(t, second.BasePoints.Equal(ranking.NewPoints(750)))

	entries, err := ledger.Entries(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].TotalPoints().Equal(ranking.NewPoints(750)))
}

func TestScoreLedger_Record_SeparateRowsPerMonth(t *testing.T) {
	store := newTestStore(t)
	table := seedRanksAndUser(t, store, "user-1")
	ctx := context.Background()
	ledger := ranking.NewScoreLedger(store)

	_, err := ledger.Record(ctx, table, "user-1", ranking.NewPeriod(2025, time.January), ranking.NewPoints(100), ranking.ZeroPoints())
	require.NoError(t, err)
	_, err = ledger.Record(ctx, table, "user-1", ranking.NewPeriod(2025, time.February), ranking.NewPoints(200), ranking.ZeroPoints())
	require.NoError(t, err)

	entries, err := ledger.Entries(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	total, err := ledger.LifetimeTotal(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, total.Equal(ranking.NewPoints(300)))
}

func TestScoreLedger_Record_NegativeDelta_Rejected(t *testing.T) {
	store := newTestStore(t)
	table := seedRanksAndUser(t, store, "user-1")
	ledger := ranking.NewScoreLedger(store)

	_, err := ledger.Record(context.Background(), table, "user-1",
		ranking.NewPeriod(2025, time.March), ranking.ParsePoints("-10"), ranking.ZeroPoints())

	assert.ErrorIs(t, err, ranking.ErrInvalidCompletion)
}

func TestScoreLedger_Record_UnknownUser_Rejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRanks(ctx, threeTierRanks()))
	table := ranking.MustRankTable(threeTierRanks())
	ledger := ranking.NewScoreLedger(store)

	_, err := ledger.Record(ctx, table, "ghost",
		ranking.NewPeriod(2025, time.March), ranking.NewPoints(100), ranking.ZeroPoints())

	assert.ErrorIs(t, err, ranking.ErrUserNotFound)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestScoreLedger_ConcurrentSamePeriod_NoLostIncrement(t *testing.T) {
	// GIVEN: Two completions for the same user and month arriving together
	// WHEN: Both are recorded concurrently (300 and 450 points)
	// THEN: Exactly one row exists and it totals 750 - no duplicate row,
	//       no lost update

	store := newTestStore(t)
	table := seedRanksAndUser(t, store, "user-1")
	ctx := context.Background()
	ledger := ranking.NewScoreLedger(store)

	march := ranking.NewPeriod(2025, time.March)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	deltas := []int64{300, 450}
	for i, d := range deltas {
		wg.Add(1)
		go func(i int, d int64) {
			defer wg.Done()
			_, errs[i] = ledger.Record(ctx, table, "user-1", march, ranking.NewPoints(d), ranking.ZeroPoints())
		}(i, d)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	entries, err := ledger.Entries(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 1, "concurrent writes must converge on one row")
	assert.True(t, entries[0].TotalPoints().Equal(ranking.NewPoints(750)))
}

func TestScoreLedger_ConcurrentManyWriters(t *testing.T) {
	store := newTestStore(t)
	table := seedRanksAndUser(t, store, "user-1")
	ctx := context.Background()
	ledger := ranking.NewScoreLedger(store)

	march := ranking.NewPeriod(2025, time.March)

	const writers = 10
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.Record(ctx, table, "user-1", march, ranking.NewPoints(10), ranking.ZeroPoints())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	total, err := ledger.LifetimeTotal(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, total.Equal(ranking.NewPoints(writers*10)))
}

// =============================================================================
// SHARED WRITE PATH TESTS
// =============================================================================

func TestRecordPeriodPoints_UnrankedUser_SnapshotsFloorRank(t *testing.T) {
	// GIVEN: A user with no rank assigned yet
	// WHEN: Recording points through the shared write path inside a transaction
	// THEN: The new row's snapshot is the lowest tier

	store := newTestStore(t)
	table := seedRanksAndUser(t, store, "user-1")
	ctx := context.Background()

	var entry ranking.LedgerEntry
	err := store.WithTx(ctx, func(s ranking.Store) error {
		var err error
		entry, err = ranking.RecordPeriodPoints(ctx, s, table, "user-1",
			ranking.NewPeriod(2025, time.March), ranking.NewPoints(100), ranking.ZeroPoints())
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, ranking.RankID("novice"), entry.RankID)
	assert.True(t, entry.TotalPoints().Equal(ranking.NewPoints(100)))
}

func TestRecordPeriodPoints_RankedUser_SnapshotsCurrentRank(t *testing.T) {
	// GIVEN: A user already holding the adept rank
	// WHEN: A new month's first points are recorded
	// THEN: The fresh row snapshots the user's current rank, not the floor

	store := newTestStore(t)
	table := seedRanksAndUser(t, store, "user-1")
	ctx := context.Background()
	require.NoError(t, store.SetUserRank(ctx, "user-1", "adept"))

	entry, err := ranking.RecordPeriodPoints(ctx, store, table, "user-1",
		ranking.NewPeriod(2025, time.April), ranking.NewPoints(50), ranking.ZeroPoints())
	require.NoError(t, err)

	assert.Equal(t, ranking.RankID("adept"), entry.RankID)
}

// =============================================================================
// CONFLICT ERROR TESTS
// =============================================================================

func TestConflictError_Identity(t *testing.T) {
	err := &ranking.ConflictError{
		UserID:   "user-1",
		Period:   ranking.NewPeriod(2025, time.March),
		Attempts: 5,
	}

	assert.ErrorIs(t, err, ranking.ErrLedgerConflict)
	assert.True(t, ranking.IsRetryable(err))
	assert.Contains(t, err.Error(), "user-1")
	assert.Contains(t, err.Error(), "2025-03")
}
