package lock

import (
	"time"

	"github.com/ekirmen/zeatingmaps-sub014/internal/model"
)

// Resolve combines a seat's live lock, its settlement coverage and the
// viewer's session identity into the one visual state the seat map
// renders.  The priority order is fixed and every render goes through
// this single function:
//
//  1. A settlement covering the seat wins over everything, including a
//     stale lock that lingered past the sale.
//  2. A terminal lock (paid or sold) also renders as sold.
//  3. A reserved hold renders as reserved for every viewer.
//  4. A selected hold renders as selected_by_me for the holder and
//     selected_by_other for everyone else.
//  5. Anything else, including a lapsed hold, is available.
func Resolve(lk *model.SeatLock, settled bool, viewer string, now time.Time) model.SeatState {
	if settled {
		return model.SeatSold
	}
	if lk == nil || !lk.Live(now) {
		return model.SeatAvailable
	}
	switch lk.Status {
	case model.StatusPaid, model.StatusSold:
		return model.SeatSold
	case model.StatusReserved:
		return model.SeatReserved
	case model.StatusSelected:
		if lk.SessionID == viewer {
			return model.SeatSelectedByMe
		}
		return model.SeatSelectedByOther
	}
	return model.SeatAvailable
}
