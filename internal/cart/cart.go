// Package cart tracks the seats one browser session currently holds
// for a show, with the shared countdown tied to the earliest hold
// expiry.  The cart is a view over the session's own locks: it applies
// changes optimistically for a responsive UI, reconciles against
// propagated events, and on timeout performs a best-effort release of
// everything it holds; the server-side expiry remains the ultimate
// enforcement for clients that never call release.
package cart

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ekirmen/zeatingmaps-sub014/internal/lock"
	"github.com/ekirmen/zeatingmaps-sub014/internal/model"
	"github.com/ekirmen/zeatingmaps-sub014/internal/queue"
	"github.com/ekirmen/zeatingmaps-sub014/internal/repository"
)

// ToggleResult reports the outcome of toggling one seat.  Multi-seat
// toggles are independent per-seat operations; some seats may succeed
// while others fail, and callers report per-seat results instead of
// rolling anything back.
type ToggleResult struct {
	SeatID string
	Held   bool // whether the session holds the seat after the toggle
	Err    error
}

// Cart is one session's cart for one show.  A cart lives while it
// holds seats: emptying it through release, reconciliation, timeout or
// checkout destroys it, and the registry hands out a fresh one on the
// next use.
type Cart struct {
	coord     *lock.Coordinator
	showID    uint64
	sessionID string
	onDestroy func()

	mu      sync.Mutex
	entries map[string]model.CartEntry
	dead    bool
	now     func() time.Time
	tick    time.Duration
}

// Option customises a Cart.
type Option func(*Cart)

// WithClock replaces the cart's clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cart) { c.now = now }
}

// WithOnDestroy registers a hook invoked once when the cart is
// destroyed.  The registry uses it to evict the cart and stop its
// goroutines.
func WithOnDestroy(f func()) Option {
	return func(c *Cart) { c.onDestroy = f }
}

// New returns an empty cart for the session and show.
func New(coord *lock.Coordinator, showID uint64, sessionID string, opts ...Option) *Cart {
	c := &Cart{
		coord:     coord,
		showID:    showID,
		sessionID: sessionID,
		entries:   make(map[string]model.CartEntry),
		now:       func() time.Time { return time.Now().UTC() },
		tick:      time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Toggle releases the seat when the session holds it and acquires it
// otherwise.  Both paths update the cart optimistically and roll the
// update back when the engine disagrees, so the UI state always
// converges on the lock store's answer.
// Coordinator calls retry with backoff, so mu is released across
// them: the countdown tick, reads and event reconciliation keep
// running while a toggle waits on storage.
func (c *Cart) Toggle(ctx context.Context, seatID string, priceCents uint32) ToggleResult {
	c.mu.Lock()
	if entry, held := c.entries[seatID]; held {
		delete(c.entries, seatID)
		c.mu.Unlock()
		err := c.coord.Release(ctx, c.showID, seatID, c.sessionID)
		if err != nil && !errors.Is(err, repository.ErrNotOwner) {
			// Infrastructure failure: restore the entry, the hold may
			// still be live server-side.
			c.mu.Lock()
			c.entries[seatID] = entry
			c.mu.Unlock()
			return ToggleResult{SeatID: seatID, Held: true, Err: err}
		}
		// ErrNotOwner means the hold already lapsed; either way the
		// seat is out of the cart.
		c.destroyIfEmpty()
		return ToggleResult{SeatID: seatID, Held: false}
	}

	c.entries[seatID] = model.CartEntry{
		SeatID:     seatID,
		ShowID:     c.showID,
		PriceCents: priceCents,
		ExpiresAt:  c.now().Add(c.coord.HoldDuration()),
	}
	c.mu.Unlock()

	lk, err := c.coord.Acquire(ctx, c.showID, seatID, c.sessionID, 0)
	c.mu.Lock()
	if err != nil {
		delete(c.entries, seatID)
		c.mu.Unlock()
		c.destroyIfEmpty()
		return ToggleResult{SeatID: seatID, Held: false, Err: err}
	}
	if entry, ok := c.entries[seatID]; ok {
		entry.ExpiresAt = lk.ExpiresAt
		c.entries[seatID] = entry
	}
	c.mu.Unlock()
	return ToggleResult{SeatID: seatID, Held: true}
}

// Held returns the cart's entries ordered by seat id.
func (c *Cart) Held() []model.CartEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.CartEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out
}

// TimeRemaining returns how long until the earliest held lock expires,
// or zero when the cart is empty or already past its window.  This is
// advisory UX only; the server-side expiry is the source of truth.
func (c *Cart) TimeRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := c.deadlineLocked()
	if !ok {
		return 0
	}
	remaining := deadline.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clear empties the cart with a best-effort release of every held
// seat, destroys it and returns how many releases succeeded.  Seats
// whose release fails are still dropped locally; their holds lapse
// server-side.
func (c *Cart) Clear(ctx context.Context) int {
	c.mu.Lock()
	seats := make([]string, 0, len(c.entries))
	for sid := range c.entries {
		seats = append(seats, sid)
	}
	c.entries = make(map[string]model.CartEntry)
	c.mu.Unlock()

	released := 0
	for _, sid := range seats {
		if err := c.coord.Release(ctx, c.showID, sid, c.sessionID); err == nil {
			released++
		}
	}
	c.destroy()
	return released
}

// Apply reconciles the cart against a propagated seat event.  The
// entry survives only the session's own selected/reserved events; a
// release, a claim by another session, or the session's own paid/sold
// event drops it.  Paid seats belong to the order, not the cart, so a
// completed checkout empties and destroys the cart instead of leaving
// seats to be pointlessly re-released when the window lapses.
func (c *Cart) Apply(ev queue.SeatEvent) {
	if ev.ShowID != c.showID {
		return
	}
	c.mu.Lock()
	if _, held := c.entries[ev.SeatID]; !held {
		c.mu.Unlock()
		return
	}
	own := ev.SessionID == c.sessionID
	if own && (ev.Status == string(model.StatusSelected) || ev.Status == string(model.StatusReserved)) {
		c.mu.Unlock()
		return
	}
	delete(c.entries, ev.SeatID)
	c.mu.Unlock()
	c.destroyIfEmpty()
}

// Run turns the countdown into action: when the window reaches zero
// the cart releases everything it still holds and the loop ends with
// the cart destroyed.  The check runs once per second, matching the
// UI tick.
func (c *Cart) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.dead {
				c.mu.Unlock()
				return
			}
			deadline, ok := c.deadlineLocked()
			expired := ok && !deadline.After(c.now())
			c.mu.Unlock()
			if expired {
				c.Clear(ctx)
				return
			}
		}
	}
}

// Alive reports whether the cart has not been destroyed.
func (c *Cart) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead
}

// destroy marks the cart dead and fires the registry hook exactly
// once.  The hook runs without mu held.
func (c *Cart) destroy() {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return
	}
	c.dead = true
	hook := c.onDestroy
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// destroyIfEmpty destroys the cart unless seats were added back in
// the meantime.
func (c *Cart) destroyIfEmpty() {
	c.mu.Lock()
	if c.dead || len(c.entries) > 0 {
		c.mu.Unlock()
		return
	}
	c.dead = true
	hook := c.onDestroy
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// deadlineLocked returns the earliest expiry across held seats.  The
// caller must hold mu.
func (c *Cart) deadlineLocked() (time.Time, bool) {
	var min time.Time
	for _, e := range c.entries {
		if min.IsZero() || e.ExpiresAt.Before(min) {
			min = e.ExpiresAt
		}
	}
	return min, !min.IsZero()
}
