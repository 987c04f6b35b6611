package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekirmen/zeatingmaps-sub014/internal/model"
	"github.com/ekirmen/zeatingmaps-sub014/internal/queue"
	"github.com/ekirmen/zeatingmaps-sub014/internal/repository"
)

// capturePub records every published event for assertions.
type capturePub struct {
	mu     sync.Mutex
	events []queue.SeatEvent
}

func (p *capturePub) Publish(ev queue.SeatEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePub) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Status
	}
	return out
}

// flakyStore fails the first n calls of every operation with an
// infrastructure error, then delegates to the wrapped store.
type flakyStore struct {
	repository.LockStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset by peer")
	}
	return nil
}

func (s *flakyStore) Acquire(ctx context.Context, showID uint64, seatID, sessionID string, ttl time.Duration) (*model.SeatLock, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	return s.LockStore.Acquire(ctx, showID, seatID, sessionID, ttl)
}

func (s *flakyStore) Release(ctx context.Context, showID uint64, seatID, sessionID string) error {
	if err := s.fail(); err != nil {
		return err
	}
	return s.LockStore.Release(ctx, showID, seatID, sessionID)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *repository.MemorySettlements, *capturePub) {
	t.Helper()
	settlements := repository.NewMemorySettlements()
	pub := &capturePub{}
	coord := NewCoordinator(repository.NewMemoryLockStore(), settlements, pub, 15*time.Minute,
		WithRetry(3, time.Millisecond))
	return coord, settlements, pub
}

func TestFullLifecycle(t *testing.T) {
	coord, _, pub := newTestCoordinator(t)
	ctx := context.Background()

	lk, err := coord.Acquire(ctx, 1, "A1", "buyer", 0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSelected, lk.Status)

	st, err := coord.ResolveSeat(ctx, 1, "A1", "buyer")
	require.NoError(t, err)
	assert.Equal(t, model.SeatSelectedByMe, st)

	st, err = coord.ResolveSeat(ctx, 1, "A1", "rival")
	require.NoError(t, err)
	assert.Equal(t, model.SeatSelectedByOther, st)

	lk, err = coord.Promote(ctx, 1, "A1", "buyer", model.StatusReserved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReserved, lk.Status)

	st, err = coord.ResolveSeat(ctx, 1, "A1", "rival")
	require.NoError(t, err)
	assert.Equal(t, model.SeatReserved, st)

	lk, err = coord.Promote(ctx, 1, "A1", "buyer", model.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, lk.Status)

	for _, viewer := range []string{"buyer", "rival"} {
		st, err = coord.ResolveSeat(ctx, 1, "A1", viewer)
		require.NoError(t, err)
		assert.Equal(t, model.SeatSold, st)
	}

	// Terminal locks never come back on the market.
	_, err = coord.Acquire(ctx, 1, "A1", "rival", 0)
	assert.ErrorIs(t, err, repository.ErrSeatUnavailable)

	assert.Equal(t, []string{"selected", "reserved", "paid"}, pub.statuses())
}

func TestAcquireRaceHasOneWinner(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, errA := coord.Acquire(ctx, 1, "A1", "sess-a", 0)
	_, errB := coord.Acquire(ctx, 1, "A1", "sess-b", 0)
	require.NoError(t, errA)
	require.ErrorIs(t, errB, repository.ErrSeatUnavailable)

	// The loser's next render shows who has the seat.
	st, err := coord.ResolveSeat(ctx, 1, "A1", "sess-b")
	require.NoError(t, err)
	assert.Equal(t, model.SeatSelectedByOther, st)
}

func TestAcquireRefusesSettledSeat(t *testing.T) {
	coord, settlements, pub := newTestCoordinator(t)
	ctx := context.Background()

	// An imported sale has no lock row, only a settlement record.
	settlements.Add(1, "A1")

	_, err := coord.Acquire(ctx, 1, "A1", "sess-a", 0)
	assert.ErrorIs(t, err, repository.ErrSeatUnavailable)
	assert.Empty(t, pub.statuses())
}

func TestReleaseAfterExpiryIsNotOwner(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time { mu.Lock(); defer mu.Unlock(); return clock }
	store := repository.NewMemoryLockStore(repository.WithClock(now))
	coord := NewCoordinator(store, repository.NewMemorySettlements(), nil, 15*time.Minute)
	ctx := context.Background()

	_, err := coord.Acquire(ctx, 1, "A1", "sess-a", 0)
	require.NoError(t, err)

	mu.Lock()
	clock = clock.Add(20 * time.Minute)
	mu.Unlock()

	err = coord.Release(ctx, 1, "A1", "sess-a")
	assert.ErrorIs(t, err, repository.ErrNotOwner)
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	flaky := &flakyStore{LockStore: repository.NewMemoryLockStore(), failures: 2}
	coord := NewCoordinator(flaky, repository.NewMemorySettlements(), nil, 15*time.Minute,
		WithRetry(3, time.Millisecond))

	lk, err := coord.Acquire(context.Background(), 1, "A1", "sess-a", 0)
	require.NoError(t, err)
	assert.Equal(t, "sess-a", lk.SessionID)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryExhaustionSurfacesStorageUnavailable(t *testing.T) {
	flaky := &flakyStore{LockStore: repository.NewMemoryLockStore(), failures: 10}
	coord := NewCoordinator(flaky, repository.NewMemorySettlements(), nil, 15*time.Minute,
		WithRetry(3, time.Millisecond))

	_, err := coord.Acquire(context.Background(), 1, "A1", "sess-a", 0)
	assert.ErrorIs(t, err, repository.ErrStorageUnavailable)
	assert.Equal(t, 3, flaky.calls)
}

func TestExpectedOutcomesAreNotRetried(t *testing.T) {
	store := repository.NewMemoryLockStore()
	_, err := store.Acquire(context.Background(), 1, "A1", "sess-a", 15*time.Minute)
	require.NoError(t, err)

	flaky := &flakyStore{LockStore: store}
	coord := NewCoordinator(flaky, repository.NewMemorySettlements(), nil, 15*time.Minute,
		WithRetry(3, time.Millisecond))

	_, err = coord.Acquire(context.Background(), 1, "A1", "sess-b", 0)
	assert.ErrorIs(t, err, repository.ErrSeatUnavailable)
	// One attempt: the seat being taken is an answer, not an outage.
	assert.Equal(t, 1, flaky.calls)
}

func TestResolveShowMergesLocksAndSettlements(t *testing.T) {
	coord, settlements, _ := newTestCoordinator(t)
	ctx := context.Background()

	settlements.Add(1, "D4")
	_, err := coord.Acquire(ctx, 1, "A1", "me", 0)
	require.NoError(t, err)
	_, err = coord.Acquire(ctx, 1, "B2", "other", 0)
	require.NoError(t, err)
	_, err = coord.Acquire(ctx, 1, "C3", "other", 0)
	require.NoError(t, err)
	_, err = coord.Promote(ctx, 1, "C3", "other", model.StatusReserved)
	require.NoError(t, err)

	states, err := coord.ResolveShow(ctx, 1, "me")
	require.NoError(t, err)
	assert.Equal(t, map[string]model.SeatState{
		"A1": model.SeatSelectedByMe,
		"B2": model.SeatSelectedByOther,
		"C3": model.SeatReserved,
		"D4": model.SeatSold,
	}, states)
}

func TestSweeperVacatesAndAnnounces(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time { mu.Lock(); defer mu.Unlock(); return clock }
	store := repository.NewMemoryLockStore(repository.WithClock(now))
	pub := &capturePub{}
	coord := NewCoordinator(store, repository.NewMemorySettlements(), nil, 15*time.Minute)
	sweeper := NewSweeper(store, pub, time.Minute)
	ctx := context.Background()

	_, err := coord.Acquire(ctx, 1, "A1", "sess-a", 0)
	require.NoError(t, err)

	// Nothing lapsed yet, a sweep is a no-op.
	sweeper.Sweep(ctx)
	assert.Empty(t, pub.statuses())

	mu.Lock()
	clock = clock.Add(20 * time.Minute)
	mu.Unlock()

	sweeper.Sweep(ctx)
	require.Equal(t, []string{queue.StatusAvailable}, pub.statuses())

	st, err := coord.ResolveSeat(ctx, 1, "A1", "sess-b")
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, st)
}
