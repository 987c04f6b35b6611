package propagate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekirmen/zeatingmaps-sub014/internal/queue"
)

func seatEvent(showID uint64, seatID, status string) queue.SeatEvent {
	return queue.SeatEvent{SeatID: seatID, ShowID: showID, Status: status, SessionID: "sess-a"}
}

func TestPublishAssignsMonotonicVersions(t *testing.T) {
	hub := NewHub(16)

	hub.Publish(seatEvent(1, "A1", "selected"))
	hub.Publish(seatEvent(1, "B2", "selected"))
	hub.Publish(seatEvent(2, "A1", "selected"))

	events, cursor := hub.Changes(1, 0)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Version)
	assert.Equal(t, uint64(2), events[1].Version)
	assert.Equal(t, uint64(2), cursor)

	// Each show numbers its own stream.
	assert.Equal(t, uint64(1), hub.Cursor(2))
}

func TestChangesReturnsOnlyEventsPastCursor(t *testing.T) {
	hub := NewHub(16)
	for _, seat := range []string{"A1", "B2", "C3", "D4"} {
		hub.Publish(seatEvent(1, seat, "selected"))
	}

	events, cursor := hub.Changes(1, 2)
	require.Len(t, events, 2)
	assert.Equal(t, "C3", events[0].SeatID)
	assert.Equal(t, "D4", events[1].SeatID)
	assert.Equal(t, uint64(4), cursor)

	// A caller already at the cursor gets nothing new.
	events, _ = hub.Changes(1, 4)
	assert.Empty(t, events)
}

func TestReplayLogIsBounded(t *testing.T) {
	hub := NewHub(4)
	for i := 0; i < 10; i++ {
		hub.Publish(seatEvent(1, "A1", "selected"))
	}

	events, cursor := hub.Changes(1, 0)
	assert.Equal(t, uint64(10), cursor)
	require.Len(t, events, 4)
	// The log keeps the newest tail.
	assert.Equal(t, uint64(7), events[0].Version)
	assert.Equal(t, uint64(10), events[3].Version)
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	hub := NewHub(16)
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Publish(seatEvent(1, "A1", "selected"))
	hub.Publish(seatEvent(2, "A1", "selected")) // different show, not delivered

	ev := <-ch
	assert.Equal(t, "A1", ev.SeatID)
	assert.Equal(t, uint64(1), ev.ShowID)
	assert.Equal(t, uint64(1), ev.Version)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event for show %d", extra.ShowID)
	default:
	}
}

func TestCancelledSubscriberStopsReceiving(t *testing.T) {
	hub := NewHub(16)
	ch, cancel := hub.Subscribe(1)
	cancel()

	hub.Publish(seatEvent(1, "A1", "selected"))
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("event delivered after cancel")
		}
	default:
	}
}

func TestForwardReceivesLocalButNotRemoteEvents(t *testing.T) {
	hub := NewHub(16)
	var mu sync.Mutex
	var forwarded []queue.SeatEvent
	done := make(chan struct{}, 1)
	hub.SetForward(func(ev queue.SeatEvent) {
		mu.Lock()
		forwarded = append(forwarded, ev)
		mu.Unlock()
		done <- struct{}{}
	})

	hub.Publish(seatEvent(1, "A1", "selected"))
	<-done

	// An event that arrived from another instance must not bounce
	// back to the broker.
	hub.PublishRemote(seatEvent(1, "B2", "selected"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, forwarded, 1)
	assert.Equal(t, "A1", forwarded[0].SeatID)

	// The remote event still enters the local log with its own version.
	events, _ := hub.Changes(1, 0)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[1].Version)
}

func TestForwardKeepsPerSeatOrderThroughSlowBroker(t *testing.T) {
	origin := NewHub(16)
	remote := NewHub(16)

	// A forwarder that stalls on the first event.  Hand-off rides one
	// ordered queue, so the stall delays the stream without reordering
	// it; the remote hub renumbers in arrival order and its highest
	// version for the seat must match the seat's true final state.
	var mu sync.Mutex
	var forwarded []string
	first := true
	done := make(chan struct{}, 2)
	origin.SetForward(func(ev queue.SeatEvent) {
		if first {
			first = false
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		forwarded = append(forwarded, ev.Status)
		mu.Unlock()
		remote.PublishRemote(ev)
		done <- struct{}{}
	})

	origin.Publish(seatEvent(1, "A1", "selected"))
	origin.Publish(seatEvent(1, "A1", "available"))
	<-done
	<-done

	mu.Lock()
	assert.Equal(t, []string{"selected", "available"}, forwarded)
	mu.Unlock()

	events, _ := remote.Changes(1, 0)
	require.Len(t, events, 2)
	last := events[len(events)-1]
	assert.Equal(t, "available", last.Status)
	assert.Equal(t, uint64(2), last.Version)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub(1024)
	_, cancel := hub.Subscribe(1)
	defer cancel()

	// Overflow the subscriber buffer; publishing must not stall.
	for i := 0; i < subscriberBuffer*2; i++ {
		hub.Publish(seatEvent(1, "A1", "selected"))
	}
	assert.Equal(t, uint64(subscriberBuffer*2), hub.Cursor(1))
}
