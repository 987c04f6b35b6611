package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ekirmen/zeatingmaps-sub014/internal/lock"
	"github.com/ekirmen/zeatingmaps-sub014/internal/middleware"
	"github.com/ekirmen/zeatingmaps-sub014/internal/model"
	"github.com/ekirmen/zeatingmaps-sub014/internal/repository"
)

// LockHandler exposes the seat lock operations over HTTP.  All methods
// resolve the caller's identity through the session middleware; the
// coordinator enforces ownership, so a handler never needs to check it
// again.
type LockHandler struct {
	Coord *lock.Coordinator
}

// NewLockHandler constructs a LockHandler.  The coordinator must be
// non-nil.
func NewLockHandler(coord *lock.Coordinator) *LockHandler {
	if coord == nil {
		panic("nil coordinator passed to NewLockHandler")
	}
	return &LockHandler{Coord: coord}
}

// Hold handles POST /v1/shows/:id/seats/:seat/hold.  It places a
// selection hold on the seat for the calling session and returns 201
// with the hold's expiry.  A seat held by someone else or already sold
// yields 409.  Re-holding a seat the session already holds refreshes
// the window and also returns 201.
func (h *LockHandler) Hold(c echo.Context) error {
	showID, seatID, sid, ok := lockParams(c)
	if !ok {
		return nil
	}
	var body struct {
		HoldDuration int `json:"hold_duration"`
	}
	// The body is optional; an empty request takes the default window.
	_ = c.Bind(&body)
	lk, err := h.Coord.Acquire(c.Request().Context(), showID, seatID, sid, time.Duration(body.HoldDuration)*time.Second)
	if err != nil {
		return respondLockError(c, err)
	}
	return c.JSON(http.StatusCreated, lockJSON(lk))
}

// Release handles DELETE /v1/shows/:id/seats/:seat/hold.  Releasing a
// hold the session no longer owns is not an error: the seat is gone
// either way, so the handler answers 200 with released=false instead
// of making the client distinguish outcomes it cannot act on.
func (h *LockHandler) Release(c echo.Context) error {
	showID, seatID, sid, ok := lockParams(c)
	if !ok {
		return nil
	}
	if err := h.Coord.Release(c.Request().Context(), showID, seatID, sid); err != nil {
		if errors.Is(err, repository.ErrNotOwner) {
			return c.JSON(http.StatusOK, echo.Map{"released": false})
		}
		return respondLockError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": true})
}

// Extend handles POST /v1/shows/:id/seats/:seat/extend.  It pushes the
// expiry of a live hold forward.  A hold that already lapsed cannot be
// revived; the client must hold the seat again and may lose it.
func (h *LockHandler) Extend(c echo.Context) error {
	showID, seatID, sid, ok := lockParams(c)
	if !ok {
		return nil
	}
	var body struct {
		HoldDuration int `json:"hold_duration"`
	}
	_ = c.Bind(&body)
	lk, err := h.Coord.Extend(c.Request().Context(), showID, seatID, sid, time.Duration(body.HoldDuration)*time.Second)
	if err != nil {
		return respondLockError(c, err)
	}
	return c.JSON(http.StatusOK, lockJSON(lk))
}

// Promote handles POST /v1/shows/:id/seats/:seat/promote.  It moves the
// session's hold to "reserved" (checkout started) or "paid" (payment
// settled).  Promoted locks stop expiring.
func (h *LockHandler) Promote(c echo.Context) error {
	showID, seatID, sid, ok := lockParams(c)
	if !ok {
		return nil
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	status := model.LockStatus(body.Status)
	if status != model.StatusReserved && status != model.StatusPaid {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be reserved or paid"})
	}
	lk, err := h.Coord.Promote(c.Request().Context(), showID, seatID, sid, status)
	if err != nil {
		return respondLockError(c, err)
	}
	return c.JSON(http.StatusOK, lockJSON(lk))
}

// Seat handles GET /v1/shows/:id/seats/:seat.  It returns the seat's
// state as seen by the calling session, so the same seat reads
// "selected_by_me" for its holder and "selected_by_other" for anyone
// else, alongside the underlying lock's status and expiry.  Another
// session's id is never echoed back.
func (h *LockHandler) Seat(c echo.Context) error {
	showID, seatID, sid, ok := lockParams(c)
	if !ok {
		return nil
	}
	ctx := c.Request().Context()
	state, err := h.Coord.ResolveSeat(ctx, showID, seatID, sid)
	if err != nil {
		return respondLockError(c, err)
	}
	out := echo.Map{"seat_id": seatID, "state": state}
	lk, err := h.Coord.Query(ctx, showID, seatID)
	if err != nil {
		return respondLockError(c, err)
	}
	if lk != nil {
		out["status"] = lk.Status
		if !lk.ExpiresAt.IsZero() {
			out["expires_at"] = lk.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}
	return c.JSON(http.StatusOK, out)
}

// Seats handles GET /v1/shows/:id/seats.  It returns the viewer-scoped
// state of every seat with a live lock or settled sale; seats absent
// from the map are available.
func (h *LockHandler) Seats(c echo.Context) error {
	showID, err := parseShowID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	states, err := h.Coord.ResolveShow(c.Request().Context(), showID, middleware.SessionID(c))
	if err != nil {
		return respondLockError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"show_id": showID, "seats": states})
}

// lockParams validates the show, seat and session of a lock request.
// On failure the 400 response has already been written and ok is
// false.
func lockParams(c echo.Context) (showID uint64, seatID, sessionID string, ok bool) {
	showID, err := parseShowID(c)
	if err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
		return 0, "", "", false
	}
	seatID = c.Param("seat")
	if seatID == "" || len(seatID) > 64 {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
		return 0, "", "", false
	}
	sessionID = middleware.SessionID(c)
	if sessionID == "" {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "missing session"})
		return 0, "", "", false
	}
	return showID, seatID, sessionID, true
}

func parseShowID(c echo.Context) (uint64, error) {
	showID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || showID == 0 {
		return 0, errors.New("invalid show id")
	}
	return showID, nil
}

func lockJSON(lk *model.SeatLock) echo.Map {
	out := echo.Map{
		"seat_id": lk.SeatID,
		"show_id": lk.ShowID,
		"status":  lk.Status,
	}
	if !lk.ExpiresAt.IsZero() {
		out["expires_at"] = lk.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}

// respondLockError maps the engine's error taxonomy onto HTTP.  Both
// unavailable and expired are conflicts the client resolves by
// refreshing its view; ownership violations are forbidden; storage
// trouble is a 503 the client may retry.
func respondLockError(c echo.Context, err error) error {
	code := errorCode(err)
	switch code {
	case "seat_unavailable", "hold_expired":
		return c.JSON(http.StatusConflict, echo.Map{"error": code})
	case "not_owner":
		return c.JSON(http.StatusForbidden, echo.Map{"error": code})
	case "storage_unavailable":
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": code})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": code})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, repository.ErrSeatUnavailable):
		return "seat_unavailable"
	case errors.Is(err, repository.ErrExpired):
		return "hold_expired"
	case errors.Is(err, repository.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, repository.ErrStorageUnavailable):
		return "storage_unavailable"
	}
	return "internal_error"
}
