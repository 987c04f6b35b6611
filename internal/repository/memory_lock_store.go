package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ekirmen/zeatingmaps-sub014/internal/model"
)

// MemoryLockStore is an in-process LockStore keyed by (show_id,
// seat_id).  A single mutex puts every operation at the same atomicity
// boundary, with expiry evaluated against the injected clock inside
// the critical section, mirroring the conditional statements of the
// MySQL store.  It backs the unit tests and serves as the store when
// no database is configured.
type MemoryLockStore struct {
	mu    sync.Mutex
	locks map[lockKey]model.SeatLock
	now   func() time.Time
}

type lockKey struct {
	showID uint64
	seatID string
}

// MemoryLockStoreOption customises a MemoryLockStore.
type MemoryLockStoreOption func(*MemoryLockStore)

// WithClock replaces the store's clock.  Tests use it to advance time
// without sleeping.
func WithClock(now func() time.Time) MemoryLockStoreOption {
	return func(s *MemoryLockStore) { s.now = now }
}

// NewMemoryLockStore returns an empty store using the wall clock
// unless overridden.
func NewMemoryLockStore(opts ...MemoryLockStoreOption) *MemoryLockStore {
	s := &MemoryLockStore{
		locks: make(map[lockKey]model.SeatLock),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire claims the seat or refreshes the caller's own hold.
func (s *MemoryLockStore) Acquire(_ context.Context, showID uint64, seatID, sessionID string, ttl time.Duration) (*model.SeatLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	key := lockKey{showID: showID, seatID: seatID}
	if cur, ok := s.locks[key]; ok && cur.Live(now) {
		if cur.Status.Terminal() || cur.SessionID != sessionID {
			return nil, ErrSeatUnavailable
		}
		cur.Status = model.StatusSelected
		cur.ExpiresAt = now.Add(ttl)
		s.locks[key] = cur
		out := cur
		return &out, nil
	}
	lk := model.SeatLock{
		SeatID:    seatID,
		ShowID:    showID,
		SessionID: sessionID,
		Status:    model.StatusSelected,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.locks[key] = lk
	return &lk, nil
}

// Release deletes the caller's hold.
func (s *MemoryLockStore) Release(_ context.Context, showID uint64, seatID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := lockKey{showID: showID, seatID: seatID}
	cur, ok := s.locks[key]
	if !ok || cur.Status.Terminal() || cur.SessionID != sessionID {
		return ErrNotOwner
	}
	delete(s.locks, key)
	return nil
}

// Extend refreshes the caller's live hold.
func (s *MemoryLockStore) Extend(_ context.Context, showID uint64, seatID, sessionID string, ttl time.Duration) (*model.SeatLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	key := lockKey{showID: showID, seatID: seatID}
	cur, ok := s.locks[key]
	if !ok || cur.Expired(now) {
		return nil, ErrExpired
	}
	if cur.Status.Terminal() {
		return nil, ErrNotOwner
	}
	if cur.SessionID != sessionID {
		// The seat was taken over after the caller's hold lapsed.
		return nil, ErrExpired
	}
	cur.ExpiresAt = now.Add(ttl)
	s.locks[key] = cur
	out := cur
	return &out, nil
}

// Promote advances the caller's live hold to reserved or paid.
func (s *MemoryLockStore) Promote(_ context.Context, showID uint64, seatID, sessionID string, status model.LockStatus) (*model.SeatLock, error) {
	if status != model.StatusReserved && status != model.StatusPaid {
		return nil, ErrNotOwner
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	key := lockKey{showID: showID, seatID: seatID}
	cur, ok := s.locks[key]
	if !ok || cur.Expired(now) {
		return nil, ErrExpired
	}
	if cur.SessionID == sessionID && cur.Status == status {
		out := cur
		return &out, nil // idempotent replay
	}
	if cur.Status.Terminal() || cur.SessionID != sessionID {
		if cur.SessionID != sessionID && cur.Status.Holding() {
			return nil, ErrExpired
		}
		return nil, ErrNotOwner
	}
	if status == model.StatusReserved && cur.Status != model.StatusSelected {
		return nil, ErrNotOwner
	}
	cur.Status = status
	if status == model.StatusPaid {
		cur.ExpiresAt = time.Time{}
	}
	s.locks[key] = cur
	out := cur
	return &out, nil
}

// Query returns the live or terminal lock, or nil when the seat is free.
func (s *MemoryLockStore) Query(_ context.Context, showID uint64, seatID string) (*model.SeatLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cur, ok := s.locks[lockKey{showID: showID, seatID: seatID}]
	if !ok || !cur.Live(now) {
		return nil, nil
	}
	out := cur
	return &out, nil
}

// QueryShow returns every live or terminal lock for the show, ordered
// by seat id for deterministic output.
func (s *MemoryLockStore) QueryShow(_ context.Context, showID uint64) ([]model.SeatLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var locks []model.SeatLock
	for key, cur := range s.locks {
		if key.showID == showID && cur.Live(now) {
			locks = append(locks, cur)
		}
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].SeatID < locks[j].SeatID })
	return locks, nil
}

// DeleteExpired removes lapsed holds and returns them.
func (s *MemoryLockStore) DeleteExpired(_ context.Context) ([]model.SeatLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var expired []model.SeatLock
	for key, cur := range s.locks {
		if cur.Expired(now) {
			expired = append(expired, cur)
			delete(s.locks, key)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].SeatID < expired[j].SeatID })
	return expired, nil
}
