package lock

import (
	"context"
	"log"
	"time"

	"github.com/ekirmen/zeatingmaps-sub014/internal/queue"
	"github.com/ekirmen/zeatingmaps-sub014/internal/repository"
)

// Sweeper periodically deletes lapsed holds and announces the vacated
// seats.  It is garbage collection only: the store's conditional
// operations already treat lapsed holds as vacated, so a sweep that
// runs late can delay cleanup but never lets an expired hold block a
// fresh acquire.
type Sweeper struct {
	store    repository.LockStore
	pub      Publisher
	interval time.Duration
}

// NewSweeper returns a Sweeper.  pub may be nil.
func NewSweeper(store repository.LockStore, pub Publisher, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{store: store, pub: pub, interval: interval}
}

// Run sweeps on the configured interval until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass.  Exposed so tests and callers can force a
// pass without waiting for the ticker.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired, err := s.store.DeleteExpired(ctx)
	if err != nil {
		log.Printf("sweeper: delete expired holds failed: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}
	log.Printf("sweeper: vacated %d expired holds", len(expired))
	if s.pub == nil {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, lk := range expired {
		s.pub.Publish(queue.SeatEvent{
			SeatID:     lk.SeatID,
			ShowID:     lk.ShowID,
			Status:     queue.StatusAvailable,
			SessionID:  lk.SessionID,
			OccurredAt: now,
		})
	}
}
