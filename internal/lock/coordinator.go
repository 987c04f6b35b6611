// Package lock implements the seat reservation coordinator: the only
// path through which seat locks are acquired, released, extended and
// promoted.  It layers bounded retries, the settlement check and
// change propagation on top of the atomic lock store.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ekirmen/zeatingmaps-sub014/internal/model"
	"github.com/ekirmen/zeatingmaps-sub014/internal/queue"
	"github.com/ekirmen/zeatingmaps-sub014/internal/repository"
)

// Publisher receives one event per successful mutation.  Publishing is
// fire-and-forget with respect to the mutation: a slow or failed
// broadcast never rolls back a successful acquire.
type Publisher interface {
	Publish(ev queue.SeatEvent)
}

// Coordinator guards all seat lock mutations for the engine.  Expected
// outcomes (seat taken, not owner, hold expired) pass through
// untouched; infrastructure failures are retried with doubling backoff
// and surface as ErrStorageUnavailable once attempts are exhausted, so
// the UI can tell "seat taken" apart from "system degraded".
type Coordinator struct {
	store       repository.LockStore
	settlements repository.SettlementOracle
	pub         Publisher

	holdDuration time.Duration
	attempts     int
	backoff      time.Duration
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithRetry overrides the storage retry policy.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewCoordinator wires a Coordinator.  pub may be nil when no
// propagation is wanted, such as in isolated tests.
func NewCoordinator(store repository.LockStore, settlements repository.SettlementOracle, pub Publisher, holdDuration time.Duration, opts ...Option) *Coordinator {
	if holdDuration <= 0 {
		holdDuration = 15 * time.Minute
	}
	c := &Coordinator{
		store:        store,
		settlements:  settlements,
		pub:          pub,
		holdDuration: holdDuration,
		attempts:     3,
		backoff:      50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HoldDuration returns the configured default hold window.
func (c *Coordinator) HoldDuration() time.Duration { return c.holdDuration }

// Acquire claims the seat for the session.  Seats covered by a
// settlement are refused before the store is touched, so imported
// sales without a lock row can never be re-sold.  A zero ttl means
// the configured default.
func (c *Coordinator) Acquire(ctx context.Context, showID uint64, seatID, sessionID string, ttl time.Duration) (*model.SeatLock, error) {
	if ttl <= 0 {
		ttl = c.holdDuration
	}
	var settled bool
	if err := c.retry(ctx, func() error {
		var err error
		settled, err = c.settlements.IsSettled(ctx, showID, seatID)
		return err
	}); err != nil {
		return nil, err
	}
	if settled {
		return nil, repository.ErrSeatUnavailable
	}
	var lk *model.SeatLock
	if err := c.retry(ctx, func() error {
		var err error
		lk, err = c.store.Acquire(ctx, showID, seatID, sessionID, ttl)
		return err
	}); err != nil {
		return nil, err
	}
	c.publish(showID, seatID, sessionID, string(lk.Status))
	return lk, nil
}

// Release gives the seat back.  ErrNotOwner is an expected outcome
// when the caller raced with expiry.
func (c *Coordinator) Release(ctx context.Context, showID uint64, seatID, sessionID string) error {
	if err := c.retry(ctx, func() error {
		return c.store.Release(ctx, showID, seatID, sessionID)
	}); err != nil {
		return err
	}
	c.publish(showID, seatID, sessionID, queue.StatusAvailable)
	return nil
}

// Extend refreshes the session's hold.  A zero ttl means the
// configured default.
func (c *Coordinator) Extend(ctx context.Context, showID uint64, seatID, sessionID string, ttl time.Duration) (*model.SeatLock, error) {
	if ttl <= 0 {
		ttl = c.holdDuration
	}
	var lk *model.SeatLock
	if err := c.retry(ctx, func() error {
		var err error
		lk, err = c.store.Extend(ctx, showID, seatID, sessionID, ttl)
		return err
	}); err != nil {
		return nil, err
	}
	c.publish(showID, seatID, sessionID, string(lk.Status))
	return lk, nil
}

// Promote advances the session's hold to reserved or paid as the
// purchase flow progresses.  Replays of a payment confirmation are
// idempotent.
func (c *Coordinator) Promote(ctx context.Context, showID uint64, seatID, sessionID string, status model.LockStatus) (*model.SeatLock, error) {
	if status != model.StatusReserved && status != model.StatusPaid {
		return nil, fmt.Errorf("cannot promote to %q", status)
	}
	var lk *model.SeatLock
	if err := c.retry(ctx, func() error {
		var err error
		lk, err = c.store.Promote(ctx, showID, seatID, sessionID, status)
		return err
	}); err != nil {
		return nil, err
	}
	c.publish(showID, seatID, sessionID, string(lk.Status))
	return lk, nil
}

// Query returns the live or terminal lock for the seat, or nil when
// the seat is free.
func (c *Coordinator) Query(ctx context.Context, showID uint64, seatID string) (*model.SeatLock, error) {
	var lk *model.SeatLock
	err := c.retry(ctx, func() error {
		var err error
		lk, err = c.store.Query(ctx, showID, seatID)
		return err
	})
	return lk, err
}

// ResolveSeat computes the visual state of one seat for the viewer.
func (c *Coordinator) ResolveSeat(ctx context.Context, showID uint64, seatID, viewer string) (model.SeatState, error) {
	settled, err := c.settlements.IsSettled(ctx, showID, seatID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", repository.ErrStorageUnavailable, err)
	}
	lk, err := c.Query(ctx, showID, seatID)
	if err != nil {
		return "", err
	}
	return Resolve(lk, settled, viewer, time.Now().UTC()), nil
}

// ResolveShow computes the visual state of every seat in the show that
// has a live lock or a settlement; seats absent from the result are
// available.  Settled seats appear even when no lock row exists.
func (c *Coordinator) ResolveShow(ctx context.Context, showID uint64, viewer string) (map[string]model.SeatState, error) {
	settled, err := c.settlements.SettledSeats(ctx, showID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStorageUnavailable, err)
	}
	var locks []model.SeatLock
	if err := c.retry(ctx, func() error {
		var err error
		locks, err = c.store.QueryShow(ctx, showID)
		return err
	}); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	states := make(map[string]model.SeatState, len(locks)+len(settled))
	for sid := range settled {
		states[sid] = model.SeatSold
	}
	for i := range locks {
		lk := &locks[i]
		if _, sold := states[lk.SeatID]; sold {
			continue
		}
		if st := Resolve(lk, false, viewer, now); st != model.SeatAvailable {
			states[lk.SeatID] = st
		}
	}
	return states, nil
}

// expected reports whether the error is a recoverable per-seat outcome
// that must never be retried or escalated.
func expected(err error) bool {
	return errors.Is(err, repository.ErrSeatUnavailable) ||
		errors.Is(err, repository.ErrNotOwner) ||
		errors.Is(err, repository.ErrExpired)
}

// retry runs op up to the configured number of attempts with doubling
// backoff, passing expected outcomes straight through.  Exhaustion
// wraps the last error in ErrStorageUnavailable.
func (c *Coordinator) retry(ctx context.Context, op func() error) error {
	var last error
	delay := c.backoff
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", repository.ErrStorageUnavailable, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
		last = op()
		if last == nil || expected(last) {
			return last
		}
	}
	return fmt.Errorf("%w: %v", repository.ErrStorageUnavailable, last)
}

func (c *Coordinator) publish(showID uint64, seatID, sessionID, status string) {
	if c.pub == nil {
		return
	}
	c.pub.Publish(queue.SeatEvent{
		SeatID:     seatID,
		ShowID:     showID,
		Status:     status,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
}
