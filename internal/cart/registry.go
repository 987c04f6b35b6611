package cart

import (
	"context"
	"sync"

	"github.com/ekirmen/zeatingmaps-sub014/internal/lock"
	"github.com/ekirmen/zeatingmaps-sub014/internal/propagate"
	"github.com/ekirmen/zeatingmaps-sub014/internal/queue"
)

type cartKey struct {
	showID    uint64
	sessionID string
}

// Registry hands out one Cart per (session, show) pair.  A cart's
// countdown and watcher goroutines run until the cart is destroyed,
// at which point the registry evicts it and cancels them; the next
// Get starts over with a fresh cart.  Carts are in-memory state; a
// restart empties them while the holds themselves survive in the lock
// store until they expire.
type Registry struct {
	coord    *lock.Coordinator
	hub      *propagate.Hub
	ctx      context.Context
	watchOps []propagate.WatcherOption

	mu    sync.Mutex
	carts map[cartKey]*Cart
}

// NewRegistry returns a registry whose cart goroutines stop when ctx
// is cancelled.  watchOps tune the per-cart watchers (poll cadence,
// push retry interval).
func NewRegistry(ctx context.Context, coord *lock.Coordinator, hub *propagate.Hub, watchOps ...propagate.WatcherOption) *Registry {
	return &Registry{
		coord:    coord,
		hub:      hub,
		ctx:      ctx,
		watchOps: watchOps,
		carts:    make(map[cartKey]*Cart),
	}
}

// Get returns the live cart for the session and show, creating one
// when none exists or the previous cart was destroyed.  A new cart
// gets a countdown goroutine and, when a hub is wired, a watcher
// feeding propagated events into Apply; both stop when the cart is
// destroyed.
func (r *Registry) Get(showID uint64, sessionID string) *Cart {
	key := cartKey{showID: showID, sessionID: sessionID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.carts[key]; ok && c.Alive() {
		return c
	}
	ctx, stop := context.WithCancel(r.ctx)
	var c *Cart
	c = New(r.coord, showID, sessionID, WithOnDestroy(func() {
		r.evict(key, c)
		stop()
	}))
	r.carts[key] = c
	go c.Run(ctx)
	if r.hub != nil {
		w := propagate.NewWatcher(propagate.LocalSource{Hub: r.hub}, showID, func(ev queue.SeatEvent) {
			c.Apply(ev)
		}, r.watchOps...)
		go w.Run(ctx)
	}
	return c
}

// Peek returns the live cart for the session and show, or nil when
// none exists.  Read-only endpoints use it so that looking at an
// empty cart never spawns one.
func (r *Registry) Peek(showID uint64, sessionID string) *Cart {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.carts[cartKey{showID: showID, sessionID: sessionID}]; ok && c.Alive() {
		return c
	}
	return nil
}

// evict removes the cart from the map unless the slot was already
// taken over by a successor.
func (r *Registry) evict(key cartKey, c *Cart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.carts[key] == c {
		delete(r.carts, key)
	}
}
