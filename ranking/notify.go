package ranking

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RANK CHANGE NOTIFICATION - Outbound event contract
// =============================================================================

// RankChanged is the outbound event emitted when a user's rank actually
// changes. Downstream consumers (user-facing alerts etc.) are external;
// this subsystem only guarantees the event fires iff old != new.
type RankChanged struct {
	ID            string    `json:"id"`
	UserID        UserID    `json:"user_id"`
	OldRankID     RankID    `json:"old_rank_id"` // empty on first assignment
	NewRankID     RankID    `json:"new_rank_id"`
	LifetimeTotal Points    `json:"lifetime_total"`
	At            time.Time `json:"at"`
}

// NewRankChanged builds the event from an ApplyRank result.
// Callers must only do this when change.Changed is true.
func NewRankChanged(change RankChange, at time.Time) RankChanged {
	return RankChanged{
		ID:            uuid.NewString(),
		UserID:        change.UserID,
		OldRankID:     change.OldRankID,
		NewRankID:     change.NewRank.ID,
		LifetimeTotal: change.LifetimeTotal,
		At:            at.UTC(),
	}
}

// Notifier delivers rank-change events to downstream consumers.
// Fire-and-forget: delivery failures are the consumer's concern, not the
// ledger transaction's; Notify must not be able to fail the unit of work.
type Notifier interface {
	Notify(ctx context.Context, event RankChanged)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event RankChanged)

func (f NotifierFunc) Notify(ctx context.Context, event RankChanged) { f(ctx, event) }

// LogNotifier writes rank changes to the process log. The default sink when
// no downstream consumer is wired.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event RankChanged) {
	log.Printf("[RankNotifier] user=%s rank %s -> %s (lifetime total %s)",
		event.UserID, event.OldRankID, event.NewRankID, event.LifetimeTotal)
}
