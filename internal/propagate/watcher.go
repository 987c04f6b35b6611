package propagate

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ekirmen/zeatingmaps-sub014/internal/queue"
)

// Mode is the watcher's delivery mode.  Push is the persistent
// low-latency channel; poll is the degraded fallback used while push
// is unhealthy.
type Mode string

const (
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

// Source abstracts where a watcher gets its events from.  The Hub
// satisfies it directly via LocalSource; a remote client would
// implement it over SSE and the changes endpoint.
type Source interface {
	// Subscribe opens the push stream for a show.  The cancel function
	// releases the subscription.
	Subscribe(ctx context.Context, showID uint64) (<-chan queue.SeatEvent, func(), error)

	// Changes returns events with a version greater than since and the
	// new cursor, in one batch.
	Changes(ctx context.Context, showID uint64, since uint64) ([]queue.SeatEvent, uint64, error)
}

// LocalSource adapts the in-process Hub to the Source interface.
type LocalSource struct {
	Hub *Hub
}

func (s LocalSource) Subscribe(_ context.Context, showID uint64) (<-chan queue.SeatEvent, func(), error) {
	ch, cancel := s.Hub.Subscribe(showID)
	return ch, cancel, nil
}

func (s LocalSource) Changes(_ context.Context, showID uint64, since uint64) ([]queue.SeatEvent, uint64, error) {
	events, cursor := s.Hub.Changes(showID, since)
	return events, cursor, nil
}

// Watcher keeps one show's view of seat state current for a consumer.
// It prefers the push stream, demotes itself to polling after
// consecutive push failures, and periodically tries to promote back
// once push looks healthy again.  Events are deduplicated per seat by
// version, so out-of-order or replayed delivery from the
// at-least-once channel never regresses the consumer's state.
type Watcher struct {
	src           Source
	showID        uint64
	apply         func(queue.SeatEvent)
	pollInterval  time.Duration
	retryInterval time.Duration
	maxFailures   int

	mu       sync.Mutex
	mode     Mode
	failures int
	cursor   uint64
	versions map[string]uint64
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval sets the interval between polls in degraded mode.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.pollInterval = d }
}

// WithRetryInterval sets how often a degraded watcher attempts to
// promote back to push mode.
func WithRetryInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.retryInterval = d }
}

// WithFailureThreshold sets how many consecutive push failures demote
// the watcher to polling.
func WithFailureThreshold(n int) WatcherOption {
	return func(w *Watcher) { w.maxFailures = n }
}

// NewWatcher returns a Watcher delivering reconciled events for the
// show to apply.
func NewWatcher(src Source, showID uint64, apply func(queue.SeatEvent), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		src:           src,
		showID:        showID,
		apply:         apply,
		pollInterval:  2 * time.Second,
		retryInterval: 30 * time.Second,
		maxFailures:   3,
		mode:          ModePush,
		versions:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Mode reports the current delivery mode.
func (w *Watcher) Mode() Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Run consumes events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if w.Mode() == ModePush {
			w.runPush(ctx)
		} else {
			w.runPoll(ctx)
		}
	}
}

func (w *Watcher) runPush(ctx context.Context) {
	ch, cancel, err := w.src.Subscribe(ctx, w.showID)
	if err != nil {
		w.pushFailed(err)
		return
	}
	defer cancel()

	// Backfill anything published between the last applied event and
	// the moment the stream opened.
	if err := w.pollOnce(ctx); err != nil {
		w.pushFailed(err)
		return
	}
	w.pushHealthy()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				w.pushFailed(nil)
				return
			}
			w.deliver(ev)
		}
	}
}

func (w *Watcher) runPoll(ctx context.Context) {
	poll := time.NewTicker(w.pollInterval)
	retry := time.NewTicker(w.retryInterval)
	defer poll.Stop()
	defer retry.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if err := w.pollOnce(ctx); err != nil {
				log.Printf("watcher: poll show=%d failed: %v", w.showID, err)
			}
		case <-retry.C:
			w.mu.Lock()
			w.mode = ModePush
			w.failures = 0
			w.mu.Unlock()
			return
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context) error {
	w.mu.Lock()
	since := w.cursor
	w.mu.Unlock()
	events, cursor, err := w.src.Changes(ctx, w.showID, since)
	if err != nil {
		return err
	}
	for _, ev := range events {
		w.deliver(ev)
	}
	w.mu.Lock()
	if cursor > w.cursor {
		w.cursor = cursor
	}
	w.mu.Unlock()
	return nil
}

// deliver applies the event unless the consumer has already seen a
// newer state for that seat.
func (w *Watcher) deliver(ev queue.SeatEvent) {
	w.mu.Lock()
	if ev.Version <= w.versions[ev.SeatID] {
		w.mu.Unlock()
		return
	}
	w.versions[ev.SeatID] = ev.Version
	if ev.Version > w.cursor {
		w.cursor = ev.Version
	}
	w.mu.Unlock()
	w.apply(ev)
}

func (w *Watcher) pushFailed(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures++
	if err != nil {
		log.Printf("watcher: push show=%d failed (%d/%d): %v", w.showID, w.failures, w.maxFailures, err)
	}
	if w.failures >= w.maxFailures {
		w.mode = ModePoll
		log.Printf("watcher: show=%d degraded to poll mode", w.showID)
	}
}

func (w *Watcher) pushHealthy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = 0
}
