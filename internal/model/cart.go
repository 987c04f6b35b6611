package model

import "time"

// CartEntry is the client-session view of one held seat.  Entries are
// derived purely from the session's own successful lock acquisitions
// and are never persisted independently of the corresponding lock.
type CartEntry struct {
	SeatID     string    `json:"seat_id"`
	ShowID     uint64    `json:"show_id"`
	PriceCents uint32    `json:"price_cents"`
	ExpiresAt  time.Time `json:"expires_at"`
}
