/*
Package reconcile rebuilds score ledgers from the completion history.

PURPOSE:
  The batch counterpart to the live ingestion path. Given one user or all
  users, it replays each user's full quiz-completion history into monthly
  ledger rows and re-runs the rank recompute. Used for migration, drift
  repair, and initial backfill.

ISOLATION:
  Each user is its own atomic unit of work. One user's failure is captured
  into the report and the batch continues; no cross-user transaction spans
  the run, so interrupting between users leaves completed users finalized.

IDEMPOTENCY:
  Non-force runs skip users who already have ledger rows ("already
  synchronized"). Force runs delete and rebuild; because the rebuild is a
  deterministic function of the immutable history (deterministic row IDs,
  synthetic first-of-month creation times, rank snapshots resolved from the
  cumulative total through each period), running force twice produces an
  identical ledger both times.

SEE ALSO:
  - report.go: Per-user outcomes and the aggregate summary
  - ranking/resolver.go: ApplyRank, invoked exactly once per user
*/
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/warp/rank-engine/ranking"
	"github.com/warp/rank-engine/store/sqlite"
)

// Policy controls what happens to users who already have ledger rows.
type Policy string

const (
	// SkipIfPresent leaves users with existing rows untouched. The
	// non-destructive default.
	SkipIfPresent Policy = "skip_if_present"

	// ForceRebuild clears the user's ledger and rebuilds it from history.
	// Must not run concurrently with live ingestion for the same user;
	// single writer per user per rebuild is the caller's responsibility.
	ForceRebuild Policy = "force_rebuild"
)

// Options parameterizes one batch run.
type Options struct {
	// UserID limits the run to one user. Empty means all users.
	UserID ranking.UserID

	// Policy defaults to SkipIfPresent.
	Policy Policy
}

// Job executes reconciliation runs against the store.
type Job struct {
	Store    *sqlite.Store
	Notifier ranking.Notifier

	// now is swappable for tests; defaults to time.Now.
	now func() time.Time
}

func NewJob(store *sqlite.Store, notifier ranking.Notifier) *Job {
	if notifier == nil {
		notifier = ranking.LogNotifier{}
	}
	return &Job{Store: store, Notifier: notifier, now: time.Now}
}

// Run executes the batch. It refuses to start without a configured rank
// table; past that point it always returns a full report, even when some
// users failed. The error return is reserved for run-level failures
// (configuration, unknown target user, cancellation).
func (j *Job) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Policy == "" {
		opts.Policy = SkipIfPresent
	}

	table, err := j.Store.RankTable(ctx)
	if err != nil {
		// No ranks configured means nobody can be ranked; refuse loudly
		// rather than leaving users silently unranked.
		return nil, fmt.Errorf("reconciliation refused: %w", err)
	}

	users, scope, err := j.targetUsers(ctx, opts)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Scope:     scope,
		Policy:    opts.Policy,
		StartedAt: j.now().UTC(),
	}

	run := sqlite.ReconciliationRun{
		ID:        report.RunID,
		Scope:     scope,
		Policy:    string(opts.Policy),
		Status:    "running",
		StartedAt: &report.StartedAt,
		CreatedAt: report.StartedAt,
	}
	if err := j.Store.SaveReconciliationRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	for _, user := range users {
		// Interruption between per-user units is safe: completed users
		// stay finalized, pending users are untouched.
		if err := ctx.Err(); err != nil {
			run.Status = "interrupted"
			run.Error = err.Error()
			j.finishRun(run, report)
			return report, err
		}

		result := j.syncUser(ctx, table, user, opts.Policy)
		report.Add(result)

		if result.Err != nil {
			log.Printf("[Reconcile] user %s failed: %v", user.ID, result.Err)
		}
	}

	if dist, err := j.Store.CountUsersByRank(ctx); err == nil {
		report.Distribution = dist
	} else {
		log.Printf("[Reconcile] rank distribution unavailable: %v", err)
	}

	run.Status = "completed"
	j.finishRun(run, report)
	return report, nil
}

func (j *Job) targetUsers(ctx context.Context, opts Options) ([]ranking.User, string, error) {
	if opts.UserID != "" {
		user, err := j.Store.GetUser(ctx, opts.UserID)
		if err != nil {
			return nil, "", err
		}
		return []ranking.User{user}, string(opts.UserID), nil
	}

	users, err := j.Store.ListUsers(ctx)
	if err != nil {
		return nil, "", err
	}
	return users, "all", nil
}

func (j *Job) finishRun(run sqlite.ReconciliationRun, report *Report) {
	completed := j.now().UTC()
	report.CompletedAt = completed
	run.CompletedAt = &completed
	run.Processed = report.Processed
	run.Updated = report.Updated
	run.Skipped = report.Skipped
	run.Errored = report.Errored

	// Run bookkeeping is best-effort; the report is the source of truth.
	if err := j.Store.SaveReconciliationRun(context.Background(), run); err != nil {
		log.Printf("[Reconcile] failed to update run record: %v", err)
	}
}

// syncUser rebuilds one user's ledger inside one transaction.
func (j *Job) syncUser(ctx context.Context, table *ranking.RankTable, user ranking.User, policy Policy) UserResult {
	result := UserResult{
		UserID:     user.ID,
		RankBefore: user.RankID,
		RankAfter:  user.RankID,
	}

	var change ranking.RankChange
	err := j.Store.WithTx(ctx, func(s ranking.Store) error {
		has, err := s.HasEntries(ctx, user.ID)
		if err != nil {
			return err
		}

		switch {
		case has && policy == SkipIfPresent:
			result.Status = StatusSkipped
			return nil
		case policy == ForceRebuild:
			if _, err := s.DeleteEntries(ctx, user.ID); err != nil {
				return err
			}
		}

		completions, err := s.CompletionsByUser(ctx, user.ID)
		if err != nil {
			return err
		}

		entries := j.buildEntries(table, user, completions)
		for _, e := range entries {
			if err := s.InsertEntry(ctx, e); err != nil {
				return err
			}
			result.PointsAdded = result.PointsAdded.Add(e.TotalPoints())
		}
		result.Periods = len(entries)

		// Exactly once per user, after all periods are in place.
		change, err = ranking.ApplyRank(ctx, s, table, user.ID)
		return err
	})

	if err != nil {
		result.Status = StatusErrored
		result.Err = err
		return result
	}
	if result.Status == StatusSkipped {
		return result
	}

	result.Status = StatusUpdated
	result.RankAfter = change.NewRank.ID
	if change.Changed {
		j.Notifier.Notify(ctx, ranking.NewRankChanged(change, j.now()))
	}
	return result
}

// buildEntries groups completions by calendar month and synthesizes one
// ledger row per month. Every field of a row is a deterministic function of
// the immutable history - stable IDs, the period's first-of-month date as
// the creation time, and a rank snapshot resolved from the cumulative total
// through that row's period - so a force rebuild reproduces the exact same
// rows no matter what rank the user holds at rebuild time.
func (j *Job) buildEntries(table *ranking.RankTable, user ranking.User, completions []ranking.QuizCompletion) []ranking.LedgerEntry {
	fallback := j.now()
	groups := make(map[string]*ranking.LedgerEntry)

	for _, c := range completions {
		occurred := c.OccurredAt
		if occurred.IsZero() {
			// Records without a usable timestamp land in the run's own
			// period rather than being dropped.
			occurred = fallback
		}
		period := ranking.PeriodOf(occurred)
		key := period.Key()

		entry, ok := groups[key]
		if !ok {
			entry = &ranking.LedgerEntry{
				ID:        backfillEntryID(user.ID, period),
				UserID:    user.ID,
				Period:    period,
				CreatedAt: period.Start,
				UpdatedAt: period.Start,
			}
			groups[key] = entry
		}
		entry.BasePoints = entry.BasePoints.Add(c.BasePoints)
		entry.BonusPoints = entry.BonusPoints.Add(c.BonusPoints)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Rank snapshots replay history: each row records the rank the user
	// held once that period's points were in. The final row's snapshot
	// therefore already equals the rank ApplyRank resolves afterwards.
	running := ranking.ZeroPoints()
	out := make([]ranking.LedgerEntry, 0, len(groups))
	for _, k := range keys {
		e := *groups[k]
		running = running.Add(e.TotalPoints())
		e.RankID = table.Resolve(running).ID
		out = append(out, e)
	}
	return out
}

// backfillEntryID derives a stable row ID from (user, period), so force
// rebuilds are byte-for-byte reproducible.
func backfillEntryID(userID ranking.UserID, period ranking.PeriodKey) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(userID)+"/"+period.Key())).String()
}
