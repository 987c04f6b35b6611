package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ekirmen/zeatingmaps-sub014/internal/propagate"
)

// EventHandler streams seat changes to browsers.  The push channel is
// server-sent events; Changes is the poll fallback clients drop to
// when the stream keeps dying.  Both speak in the hub's per-show
// versions, so a client can move between them without losing events.
type EventHandler struct {
	Hub *propagate.Hub
}

// NewEventHandler constructs an EventHandler.  The hub must be non-nil.
func NewEventHandler(hub *propagate.Hub) *EventHandler {
	if hub == nil {
		panic("nil hub passed to NewEventHandler")
	}
	return &EventHandler{Hub: hub}
}

// Stream handles GET /v1/shows/:id/events.  It subscribes the caller
// to the show's seat events and writes them as SSE frames, using the
// event version as the SSE id.  A reconnecting client sends
// Last-Event-ID and gets the gap replayed from the change log before
// live delivery resumes.
func (h *EventHandler) Stream(c echo.Context) error {
	showID, err := parseShowID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is
	// missed; the version check below drops the overlap.
	ch, cancel := h.Hub.Subscribe(showID)
	defer cancel()

	var since uint64
	if last := c.Request().Header.Get("Last-Event-ID"); last != "" {
		since, _ = strconv.ParseUint(last, 10, 64)
	}
	replay, cursor := h.Hub.Changes(showID, since)
	for _, ev := range replay {
		if err := writeSSE(res, ev.Version, ev); err != nil {
			return nil
		}
	}
	res.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Version <= cursor {
				continue
			}
			if err := writeSSE(res, ev.Version, ev); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

// Changes handles GET /v1/shows/:id/changes.  It returns every event
// after the ?since= cursor plus the new cursor to poll from.  A client
// whose cursor fell behind the bounded log gets the log's full tail,
// which for seat state converges on the same view.
func (h *EventHandler) Changes(c echo.Context) error {
	showID, err := parseShowID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	var since uint64
	if raw := c.QueryParam("since"); raw != "" {
		since, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid since cursor"})
		}
	}
	events, cursor := h.Hub.Changes(showID, since)
	return c.JSON(http.StatusOK, echo.Map{
		"events": events,
		"cursor": cursor,
	})
}

func writeSSE(res *echo.Response, id uint64, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(res, "id: %d\ndata: %s\n\n", id, data)
	return err
}
