// Package propagate fans seat change events out to every session
// watching a show's seating chart.  The Hub is the in-process leg: it
// stamps versions, feeds push subscribers and keeps a bounded replay
// log for the polling fallback.  The cross-instance leg rides the
// message broker through a forward hook.
package propagate

import (
	"log"
	"sync"
	"time"

	"github.com/ekirmen/zeatingmaps-sub014/internal/queue"
)

// subscriberBuffer bounds each subscriber channel.  Sends never
// block the publisher; a subscriber that falls this far behind misses
// events and recovers through the replay log or the poll endpoint,
// which is acceptable under at-least-once delivery.
const subscriberBuffer = 64

// forwardBuffer bounds the queue between publishers and the broker
// drainer.  The queue absorbs broker latency without blocking the
// mutation path; overflow drops the event and the seat map read
// endpoint remains the recovery path for remote viewers.
const forwardBuffer = 1024

// Hub owns one topic per show.  Versions are a per-show sequence
// assigned at publish time, which makes them monotonic per seat and
// lets the same number serve as the poll cursor.
type Hub struct {
	mu       sync.Mutex
	shows    map[uint64]*showTopic
	capacity int
	forward  func(queue.SeatEvent)
	fwdCh    chan queue.SeatEvent
}

type showTopic struct {
	seq     uint64
	nextSub uint64
	subs    map[uint64]chan queue.SeatEvent
	log     []queue.SeatEvent
}

// NewHub returns a Hub whose replay log keeps up to capacity events
// per show.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 512
	}
	return &Hub{shows: make(map[uint64]*showTopic), capacity: capacity}
}

// SetForward installs the cross-instance forwarder, typically the
// broker publisher.  Events are handed off through a queue drained by
// a single goroutine: broker I/O never blocks the mutation path, and
// two events for the same seat reach the broker in the order their
// versions were stamped.  Renumbering them in arrival order on the
// receiving side then keeps every seat's state monotonic there too.
func (h *Hub) SetForward(f func(queue.SeatEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forward = f
	if h.fwdCh == nil {
		h.fwdCh = make(chan queue.SeatEvent, forwardBuffer)
		go h.drainForward(h.fwdCh)
	}
}

func (h *Hub) drainForward(ch <-chan queue.SeatEvent) {
	for ev := range ch {
		h.mu.Lock()
		fwd := h.forward
		h.mu.Unlock()
		if fwd != nil {
			fwd(ev)
		}
	}
}

// Publish stamps the event with the show's next version and fans it
// out to local subscribers and, when configured, to the broker.
func (h *Hub) Publish(ev queue.SeatEvent) {
	h.publish(ev, true)
}

// PublishRemote ingests an event received from another instance.  The
// version is reassigned from the local sequence (each instance numbers
// its own stream) and the event is not forwarded back to the broker.
func (h *Hub) PublishRemote(ev queue.SeatEvent) {
	h.publish(ev, false)
}

func (h *Hub) publish(ev queue.SeatEvent, forward bool) {
	h.mu.Lock()
	topic := h.topic(ev.ShowID)
	topic.seq++
	ev.Version = topic.seq
	if ev.OccurredAt == "" {
		ev.OccurredAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	topic.log = append(topic.log, ev)
	if len(topic.log) > h.capacity {
		topic.log = topic.log[len(topic.log)-h.capacity:]
	}
	for _, sub := range topic.subs {
		select {
		case sub <- ev:
		default: // slow subscriber, poll path recovers it
		}
	}
	// Enqueue before releasing mu so the forward queue sees events in
	// version order even when publishers race.
	if forward && h.fwdCh != nil {
		select {
		case h.fwdCh <- ev:
		default:
			log.Printf("[propagate] forward queue full, dropping %s event for seat %s show %d", ev.Status, ev.SeatID, ev.ShowID)
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a push subscriber for the show.  The returned
// cancel function must be called when the subscriber goes away.
func (h *Hub) Subscribe(showID uint64) (<-chan queue.SeatEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	topic := h.topic(showID)
	id := topic.nextSub
	topic.nextSub++
	ch := make(chan queue.SeatEvent, subscriberBuffer)
	topic.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if t, ok := h.shows[showID]; ok {
			delete(t.subs, id)
		}
	}
	return ch, cancel
}

// Changes returns every retained event for the show with a version
// greater than since, along with the current cursor.  A caller whose
// cursor predates the replay log should refetch the full seat map;
// the returned events always include everything the log still holds
// past the cursor.
func (h *Hub) Changes(showID uint64, since uint64) ([]queue.SeatEvent, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	topic := h.topic(showID)
	var out []queue.SeatEvent
	for _, ev := range topic.log {
		if ev.Version > since {
			out = append(out, ev)
		}
	}
	return out, topic.seq
}

// Cursor returns the show's current version sequence.
func (h *Hub) Cursor(showID uint64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.topic(showID).seq
}

func (h *Hub) topic(showID uint64) *showTopic {
	topic, ok := h.shows[showID]
	if !ok {
		topic = &showTopic{subs: make(map[uint64]chan queue.SeatEvent)}
		h.shows[showID] = topic
	}
	return topic
}
