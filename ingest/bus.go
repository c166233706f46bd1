/*
bus.go - In-process completion bus and worker pool

PURPOSE:
  The delivery mechanism between whatever finalizes quizzes and the
  ingestor. One goroutine pool consumes a buffered channel of QuizCompleted
  events; each event is handed to the ingestor exactly once per delivery.

DESIGN:
  - Publish is non-blocking up to the buffer size, then blocks (backpressure)
  - Many workers: completions for different users process concurrently;
    two near-simultaneous completions for the SAME user are safe because
    the ingestor's unit of work serializes on the store
  - "Log and continue" on handler failure: duplicates are benign skips,
    client errors are dead-letter candidates, everything else is logged
    with full event context for replay

USAGE:
  bus := ingest.NewBus(ingestor, 4)
  bus.Start(ctx)
  bus.Publish(evt)
  ...
  bus.Stop()
*/
package ingest

import (
	"context"
	"log"
	"sync"

	"github.com/warp/rank-engine/ranking"
)

const defaultBuffer = 256

type Bus struct {
	ingestor *Ingestor
	workers  int

	queue chan QuizCompleted
	wg    sync.WaitGroup
	mu    sync.Mutex

	started bool
	stopped bool
}

func NewBus(ingestor *Ingestor, workers int) *Bus {
	if workers <= 0 {
		workers = 1
	}
	return &Bus{
		ingestor: ingestor,
		workers:  workers,
		queue:    make(chan QuizCompleted, defaultBuffer),
	}
}

// Start launches the worker pool. Safe to call once.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.run(ctx)
	}

	log.Printf("[IngestBus] Started with %d workers", b.workers)
}

// Publish enqueues a completion event. Returns false once the bus has been
// stopped; the caller then owns redelivery.
func (b *Bus) Publish(evt QuizCompleted) bool {
	// The send happens under the lock so Stop cannot close the queue
	// between the stopped check and the send. Workers drain the queue
	// without touching the lock, so a publisher blocked on a full buffer
	// still makes progress.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}

	b.queue <- evt
	return true
}

// Stop closes the queue and waits for in-flight events to drain.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped || !b.started {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.queue)
	b.wg.Wait()
	log.Println("[IngestBus] Stopped")
}

func (b *Bus) run(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.queue:
			if !ok {
				return
			}
			b.handle(ctx, evt)
		}
	}
}

func (b *Bus) handle(ctx context.Context, evt QuizCompleted) {
	_, err := b.ingestor.HandleCompletion(ctx, evt)
	switch {
	case err == nil:
	case IsDuplicate(err):
		log.Printf("[IngestBus] Skipped duplicate completion %s", evt.ID)
	case ranking.IsClientError(err):
		log.Printf("[IngestBus] Rejected completion %s (user %s): %v", evt.ID, evt.UserID, err)
	default:
		log.Printf("[IngestBus] Failed completion %s (user %s): %v", evt.ID, evt.UserID, err)
	}
}
