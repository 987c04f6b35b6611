package model

// SeatState is the visual state of a seat as resolved for one viewing
// session.  It is derived fresh on every read from the lock store, the
// settlement feed and the viewer's own session identity; it is never
// stored.
type SeatState string

const (
	SeatAvailable       SeatState = "available"
	SeatSelectedByMe    SeatState = "selected_by_me"
	SeatSelectedByOther SeatState = "selected_by_other"
	SeatReserved        SeatState = "reserved"
	SeatSold            SeatState = "sold"
)
