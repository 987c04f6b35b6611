package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekirmen/zeatingmaps-sub014/internal/cart"
	"github.com/ekirmen/zeatingmaps-sub014/internal/handler"
	"github.com/ekirmen/zeatingmaps-sub014/internal/lock"
	"github.com/ekirmen/zeatingmaps-sub014/internal/middleware"
	"github.com/ekirmen/zeatingmaps-sub014/internal/propagate"
	"github.com/ekirmen/zeatingmaps-sub014/internal/repository"
	"github.com/ekirmen/zeatingmaps-sub014/internal/router"
)

const (
	sessA = "11111111-1111-1111-1111-111111111111"
	sessB = "22222222-2222-2222-2222-222222222222"
)

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	store := repository.NewMemoryLockStore()
	hub := propagate.NewHub(64)
	coord := lock.NewCoordinator(store, repository.NewMemorySettlements(), hub, 15*time.Minute,
		lock.WithRetry(1, time.Millisecond))

	e := echo.New()
	e.Use(middleware.Session())
	router.RegisterRoutes(e)
	router.RegisterLocks(e, handler.NewLockHandler(coord))
	router.RegisterEvents(e, handler.NewEventHandler(hub))
	router.RegisterCart(e, handler.NewCartHandler(cart.NewRegistry(context.Background(), coord, hub)))
	return e
}

func do(e *echo.Echo, method, target, session, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if session != "" {
		req.Header.Set("X-Session-Id", session)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHoldEndpoint(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/shows/1/seats/A1/hold", sessA, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "selected", body["status"])
	assert.NotEmpty(t, body["expires_at"])

	// A rival hitting the same seat gets a conflict.
	rec = do(e, http.MethodPost, "/v1/shows/1/seats/A1/hold", sessB, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "seat_unavailable", decode(t, rec)["error"])
}

func TestHoldRejectsBadShowID(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/shows/zero/seats/A1/hold", sessA, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReleaseEndpoint(t *testing.T) {
	e := newTestServer(t)

	do(e, http.MethodPost, "/v1/shows/1/seats/A1/hold", sessA, "")

	rec := do(e, http.MethodDelete, "/v1/shows/1/seats/A1/hold", sessA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["released"])

	// Releasing again is answered, not punished.
	rec = do(e, http.MethodDelete, "/v1/shows/1/seats/A1/hold", sessA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["released"])
}

func TestExtendEndpoint(t *testing.T) {
	e := newTestServer(t)

	do(e, http.MethodPost, "/v1/shows/1/seats/A1/hold", sessA, "")

	rec := do(e, http.MethodPost, "/v1/shows/1/seats/A1/extend", sessA, `{"hold_duration":600}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["expires_at"])

	// Extending a hold that was never placed reads as expired.
	rec = do(e, http.MethodPost, "/v1/shows/1/seats/Z9/extend", sessA, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "hold_expired", decode(t, rec)["error"])
}

func TestPromoteEndpoint(t *testing.T) {
	e := newTestServer(t)

	do(e, http.MethodPost, "/v1/shows/1/seats/A1/hold", sessA, "")

	rec := do(e, http.MethodPost, "/v1/shows/1/seats/A1/promote", sessA, `{"status":"reserved"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reserved", decode(t, rec)["status"])

	// Only the holder may promote.
	rec = do(e, http.MethodPost, "/v1/shows/1/seats/A1/promote", sessB, `{"status":"paid"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(e, http.MethodPost, "/v1/shows/1/seats/A1/promote", sessA, `{"status":"banana"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/v1/shows/1/seats/A1/promote", sessA, `{"status":"paid"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", decode(t, rec)["status"])
}

func TestSeatStateIsViewerScoped(t *testing.T) {
	e := newTestServer(t)

	do(e, http.MethodPost, "/v1/shows/1/seats/A1/hold", sessA, "")

	rec := do(e, http.MethodGet, "/v1/shows/1/seats/A1", sessA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "selected_by_me", decode(t, rec)["state"])

	rec = do(e, http.MethodGet, "/v1/shows/1/seats/A1", sessB, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "selected_by_other", decode(t, rec)["state"])
}

func TestShowSeatsEndpoint(t *testing.T) {
	e := newTestServer(t)

	do(e, http.MethodPost, "/v1/shows/1/seats/A1/hold", sessA, "")
	do(e, http.MethodPost, "/v1/shows/1/seats/B2/hold", sessB, "")

	rec := do(e, http.MethodGet, "/v1/shows/1/seats", sessA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	seats := decode(t, rec)["seats"].(map[string]any)
	assert.Equal(t, "selected_by_me", seats["A1"])
	assert.Equal(t, "selected_by_other", seats["B2"])
	// Free seats are absent rather than enumerated.
	_, listed := seats["C3"]
	assert.False(t, listed)
}

func TestChangesEndpoint(t *testing.T) {
	e := newTestServer(t)

	do(e, http.MethodPost, "/v1/shows/1/seats/A1/hold", sessA, "")
	do(e, http.MethodDelete, "/v1/shows/1/seats/A1/hold", sessA, "")

	rec := do(e, http.MethodGet, "/v1/shows/1/changes", sessB, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	events := body["events"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Equal(t, "selected", first["status"])
	assert.Equal(t, float64(1), first["version"])
	assert.Equal(t, float64(2), body["cursor"])

	// Polling from the cursor returns nothing new.
	rec = do(e, http.MethodGet, "/v1/shows/1/changes?since=2", sessB, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["events"])
}

func TestCartEndpoints(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/shows/1/cart/toggle", sessA,
		`{"seat_ids":["A1","B2"],"price_cents":{"A1":2500,"B2":3000}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	results := body["results"].([]any)
	require.Len(t, results, 2)
	for _, raw := range results {
		res := raw.(map[string]any)
		assert.Equal(t, true, res["held"])
	}
	assert.Greater(t, body["time_remaining_sec"].(float64), float64(0))

	// A rival toggling a taken seat gets a per-seat error, not a 4xx.
	rec = do(e, http.MethodPost, "/v1/shows/1/cart/toggle", sessB, `{"seat_ids":["A1"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode(t, rec)["results"].([]any)[0].(map[string]any)
	assert.Equal(t, false, res["held"])
	assert.Equal(t, "seat_unavailable", res["error"])

	rec = do(e, http.MethodGet, "/v1/shows/1/cart", sessA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["held"].([]any), 2)

	rec = do(e, http.MethodDelete, "/v1/shows/1/cart", sessA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["released"])

	rec = do(e, http.MethodGet, "/v1/shows/1/cart", sessA, "")
	assert.Len(t, decode(t, rec)["held"].([]any), 0)
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
