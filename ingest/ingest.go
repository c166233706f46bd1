/*
Package ingest provides the live ingestion path for quiz completions.

PURPOSE:
  Reacts to finalized QuizCompleted events: records the completion, updates
  the score ledger row for the completion's month, recomputes the user's
  rank, and publishes a RankChanged event when the rank actually moved.

ATOMICITY:
  Everything except the outbound notification happens in one unit of work.
  If any step fails the transaction rolls back: no partial ledger update and
  no spurious rank-change notification survive a failure. The notification
  fires only after commit.

DELIVERY SEMANTICS:
  The completion ID is the idempotency key. Redelivered events hit the
  duplicate check and are skipped without touching the ledger. Retry and
  dead-lettering of failed events belong to the delivery layer (the bus
  here, or whatever feeds it); the ingestor only retries write conflicts.

SEE ALSO:
  - bus.go: The in-process delivery mechanism and its worker pool
  - ranking/resolver.go: ApplyRank
*/
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/rank-engine/ranking"
)

// QuizCompleted is the inbound event: a single finalized quiz result.
// ID must be unique per completion; it doubles as the idempotency key.
type QuizCompleted struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	BasePoints  int64     `json:"base_points"`
	BonusPoints int64     `json:"bonus_points"`
	OccurredAt  time.Time `json:"occurred_at"`
}

const maxUnitRetries = 3

// Ingestor turns completion events into ledger truth.
type Ingestor struct {
	store    ranking.TxStore
	notifier ranking.Notifier

	// now is swappable for tests; defaults to time.Now.
	now func() time.Time
}

func NewIngestor(store ranking.TxStore, notifier ranking.Notifier) *Ingestor {
	if notifier == nil {
		notifier = ranking.LogNotifier{}
	}
	return &Ingestor{store: store, notifier: notifier, now: time.Now}
}

// HandleCompletion processes exactly one finalized completion.
//
// The period is derived from the event's own OccurredAt so that a
// late-delivered completion lands in the same month the backfill would put
// it in. A zero OccurredAt falls back to the processing time.
func (in *Ingestor) HandleCompletion(ctx context.Context, evt QuizCompleted) (ranking.RankChange, error) {
	if err := validate(evt); err != nil {
		return ranking.RankChange{}, err
	}

	// Refuse to write ledger data that cannot be ranked.
	table, err := in.store.RankTable(ctx)
	if err != nil {
		return ranking.RankChange{}, err
	}

	occurred := evt.OccurredAt
	if occurred.IsZero() {
		occurred = in.now()
	}
	period := ranking.PeriodOf(occurred)
	userID := ranking.UserID(evt.UserID)

	var change ranking.RankChange
	unit := func(s ranking.Store) error {
		if err := s.InsertCompletion(ctx, ranking.QuizCompletion{
			ID:          evt.ID,
			UserID:      userID,
			BasePoints:  ranking.NewPoints(evt.BasePoints),
			BonusPoints: ranking.NewPoints(evt.BonusPoints),
			OccurredAt:  evt.OccurredAt,
			CreatedAt:   in.now(),
		}); err != nil {
			return err
		}

		if _, err := ranking.RecordPeriodPoints(ctx, s, table, userID, period,
			ranking.NewPoints(evt.BasePoints), ranking.NewPoints(evt.BonusPoints)); err != nil {
			return err
		}

		var err error
		change, err = ranking.ApplyRank(ctx, s, table, userID)
		return err
	}

	// Retry the whole unit of work on write conflicts; everything else
	// surfaces to the delivery layer untouched.
	for attempt := 1; ; attempt++ {
		err = in.store.WithTx(ctx, unit)
		if err == nil {
			break
		}
		if !ranking.IsRetryable(err) || attempt >= maxUnitRetries {
			return ranking.RankChange{}, err
		}
		select {
		case <-ctx.Done():
			return ranking.RankChange{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * 5 * time.Millisecond):
		}
	}

	if change.Changed {
		in.notifier.Notify(ctx, ranking.NewRankChanged(change, in.now()))
	}

	return change, nil
}

func validate(evt QuizCompleted) error {
	switch {
	case evt.ID == "":
		return fmt.Errorf("%w: missing completion id", ranking.ErrInvalidCompletion)
	case evt.UserID == "":
		return fmt.Errorf("%w: missing user id", ranking.ErrInvalidCompletion)
	case evt.BasePoints < 0 || evt.BonusPoints < 0:
		return fmt.Errorf("%w: negative points", ranking.ErrInvalidCompletion)
	}
	return nil
}

// IsDuplicate reports whether an ingestion error means the event was
// already processed. The bus treats this as success.
func IsDuplicate(err error) bool {
	return errors.Is(err, ranking.ErrDuplicateCompletion)
}
