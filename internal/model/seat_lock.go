package model

import "time"

// LockStatus enumerates the lifecycle of a seat lock.  A seat moves
// from selected to reserved while the buyer walks through checkout,
// and ends in paid once the payment is confirmed.  Sold is assigned
// when a settlement record covers the seat regardless of any lock
// history (imported sales arrive this way).  Paid and sold are
// terminal and never expire.
type LockStatus string

const (
	StatusSelected LockStatus = "selected" // seat picked on the chart, countdown running
	StatusReserved LockStatus = "reserved" // checkout opened, still time-boxed
	StatusPaid     LockStatus = "paid"     // payment confirmed, terminal
	StatusSold     LockStatus = "sold"     // settlement record covers the seat, terminal
)

// Terminal reports whether the status can never transition again for
// this seat and show.
func (s LockStatus) Terminal() bool {
	return s == StatusPaid || s == StatusSold
}

// Holding reports whether the status represents a live, time-boxed hold.
func (s LockStatus) Holding() bool {
	return s == StatusSelected || s == StatusReserved
}

// SeatLock is one row of the lock store: a single hold attempt for a
// seat within a show.  Seat identifiers are opaque strings and are
// only unique in combination with the show.  SessionID is the opaque
// per-browser-session capability string; the engine compares it for
// equality and never authenticates it.
//
// Invariant: for a given (show_id, seat_id) at most one row with a
// holding status and expires_at in the future may exist.  Terminal
// rows carry a zero ExpiresAt and never expire.
type SeatLock struct {
	SeatID    string     `json:"seat_id"`
	ShowID    uint64     `json:"show_id"`
	SessionID string     `json:"session_id"`
	Status    LockStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at,omitempty"`
}

// Live reports whether the lock still binds the seat at the given
// instant.  Terminal locks are always live; holding locks are live
// until their expiry passes.
func (l *SeatLock) Live(now time.Time) bool {
	if l == nil {
		return false
	}
	if l.Status.Terminal() {
		return true
	}
	return l.ExpiresAt.After(now)
}

// Expired reports whether a holding lock has lapsed.  Terminal locks
// never expire.
func (l *SeatLock) Expired(now time.Time) bool {
	if l == nil || l.Status.Terminal() {
		return false
	}
	return !l.ExpiresAt.After(now)
}
