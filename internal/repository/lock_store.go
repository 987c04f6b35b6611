package repository

import (
	"context"
	"time"

	"github.com/ekirmen/zeatingmaps-sub014/internal/model"
)

// LockStore is the single mutation surface for seat locks.  Every
// operation is atomic with respect to one (show_id, seat_id) key and
// enforces expiry inside its own conditional predicate, so a lapsed
// hold can never block a fresh Acquire even before the sweeper has
// cleaned it up.  Implementations must never expose the underlying
// keyed state for direct mutation.
type LockStore interface {
	// Acquire claims the seat for the session with status selected and
	// the given time-to-live.  It succeeds only when no other session
	// holds a live lock; when the caller already holds the seat the
	// hold is refreshed in place.  Returns ErrSeatUnavailable when
	// another session holds the seat or the seat is terminal.
	Acquire(ctx context.Context, showID uint64, seatID, sessionID string, ttl time.Duration) (*model.SeatLock, error)

	// Release deletes the caller's hold.  Returns ErrNotOwner when the
	// caller does not hold the seat or the seat is terminal.
	Release(ctx context.Context, showID uint64, seatID, sessionID string) error

	// Extend refreshes the expiry of the caller's live hold.  Returns
	// ErrExpired when the hold lapsed (including takeover by another
	// session after the lapse) and ErrNotOwner when the seat is
	// terminal.
	Extend(ctx context.Context, showID uint64, seatID, sessionID string, ttl time.Duration) (*model.SeatLock, error)

	// Promote advances the caller's live hold to reserved or paid.
	// Promoting to the status the lock already has is an idempotent
	// no-op, so payment confirmations can be replayed safely.  Paid
	// locks become terminal and lose their expiry.
	Promote(ctx context.Context, showID uint64, seatID, sessionID string, status model.LockStatus) (*model.SeatLock, error)

	// Query returns the live or terminal lock for the seat, or nil
	// when the seat is free.  Expired holds are reported as free.
	Query(ctx context.Context, showID uint64, seatID string) (*model.SeatLock, error)

	// QueryShow returns every live or terminal lock for the show.
	QueryShow(ctx context.Context, showID uint64) ([]model.SeatLock, error)

	// DeleteExpired removes lapsed holds across all shows and returns
	// the removed locks so the caller can announce the vacated seats.
	// It is pure garbage collection; expiry is already enforced by the
	// conditional operations above.
	DeleteExpired(ctx context.Context) ([]model.SeatLock, error)
}
