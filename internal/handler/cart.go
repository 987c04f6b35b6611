package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ekirmen/zeatingmaps-sub014/internal/cart"
	"github.com/ekirmen/zeatingmaps-sub014/internal/middleware"
	"github.com/ekirmen/zeatingmaps-sub014/internal/model"
)

// CartHandler exposes the per-session cart.  Carts are addressed by
// the (session, show) pair, so the handler only ever needs the show id
// from the path and the session from the middleware.
type CartHandler struct {
	Carts *cart.Registry
}

// NewCartHandler constructs a CartHandler.  The registry must be
// non-nil.
func NewCartHandler(carts *cart.Registry) *CartHandler {
	if carts == nil {
		panic("nil registry passed to NewCartHandler")
	}
	return &CartHandler{Carts: carts}
}

// Toggle handles POST /v1/shows/:id/cart/toggle.  The body carries the
// seats to flip and an optional price per seat.  Each seat toggles
// independently; the response reports the per-seat outcome plus the
// cart's remaining window, so one contested seat never voids the rest
// of the selection.
func (h *CartHandler) Toggle(c echo.Context) error {
	showID, err := parseShowID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	sid := middleware.SessionID(c)
	if sid == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing session"})
	}
	var body struct {
		SeatIDs    []string          `json:"seat_ids"`
		PriceCents map[string]uint32 `json:"price_cents"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids is required"})
	}
	// Deduplicate so a doubled seat does not toggle itself back off.
	seen := make(map[string]struct{}, len(body.SeatIDs))
	unique := make([]string, 0, len(body.SeatIDs))
	for _, seatID := range body.SeatIDs {
		if seatID == "" || len(seatID) > 64 {
			continue
		}
		if _, ok := seen[seatID]; !ok {
			seen[seatID] = struct{}{}
			unique = append(unique, seatID)
		}
	}
	if len(unique) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no valid seat IDs provided"})
	}

	ctx := c.Request().Context()
	results := make([]echo.Map, 0, len(unique))
	// Re-fetch per seat: toggling a cart empty destroys it, and the
	// next seat in the batch then needs a fresh one.
	var ct *cart.Cart
	for _, seatID := range unique {
		ct = h.Carts.Get(showID, sid)
		res := ct.Toggle(ctx, seatID, body.PriceCents[seatID])
		entry := echo.Map{"seat_id": res.SeatID, "held": res.Held}
		if res.Err != nil {
			entry["error"] = errorCode(res.Err)
		}
		results = append(results, entry)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"results":            results,
		"held":               cartJSON(ct.Held()),
		"time_remaining_sec": int(ct.TimeRemaining() / time.Second),
	})
}

// Get handles GET /v1/shows/:id/cart.  It returns the held seats and
// the shared countdown.
func (h *CartHandler) Get(c echo.Context) error {
	showID, err := parseShowID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	sid := middleware.SessionID(c)
	if sid == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing session"})
	}
	// Peek, never Get: reading an absent cart must not spawn one.
	ct := h.Carts.Peek(showID, sid)
	if ct == nil {
		return c.JSON(http.StatusOK, echo.Map{
			"held":               []echo.Map{},
			"time_remaining_sec": 0,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"held":               cartJSON(ct.Held()),
		"time_remaining_sec": int(ct.TimeRemaining() / time.Second),
	})
}

// Clear handles DELETE /v1/shows/:id/cart.  It empties the cart with a
// best-effort release of every hold and reports how many released.
func (h *CartHandler) Clear(c echo.Context) error {
	showID, err := parseShowID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	sid := middleware.SessionID(c)
	if sid == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing session"})
	}
	ct := h.Carts.Peek(showID, sid)
	if ct == nil {
		return c.JSON(http.StatusOK, echo.Map{"released": 0})
	}
	released := ct.Clear(c.Request().Context())
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

func cartJSON(entries []model.CartEntry) []echo.Map {
	out := make([]echo.Map, 0, len(entries))
	for _, e := range entries {
		out = append(out, echo.Map{
			"seat_id":     e.SeatID,
			"price_cents": e.PriceCents,
			"expires_at":  e.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
