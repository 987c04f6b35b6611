// Package queue defines the seat change events exchanged between
// engine instances over the message broker and fanned out to
// subscribed clients.
package queue

// StatusAvailable is the event status for a seat whose hold was
// released or swept; the remaining status values are the lock
// statuses themselves.
const StatusAvailable = "available"

// SeatEvent announces one successful mutation of a seat's lock state.
// Delivery is at-least-once and ordering is only guaranteed per seat:
// Version increases monotonically per seat within a show, and
// consumers must drop events older than the version they have already
// applied.
type SeatEvent struct {
	SeatID     string `json:"seat_id"`
	ShowID     uint64 `json:"show_id"`
	Status     string `json:"status"`
	SessionID  string `json:"session_id"`
	Version    uint64 `json:"version"`
	Origin     string `json:"origin,omitempty"` // engine instance that produced the event
	OccurredAt string `json:"occurred_at"`
}
