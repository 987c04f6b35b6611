package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/ekirmen/zeatingmaps-sub014/internal/handler"
)

// RegisterRoutes registers routes that carry no show or session scope.
// Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterLocks registers the seat lock endpoints under /v1/shows/:id.
// The hold, release, extend and promote routes all mutate the calling
// session's lock on one seat; the two GET routes read viewer-scoped
// state.  The caller supplies any middleware the group should run
// (session resolution, rate limiting).
func RegisterLocks(e *echo.Echo, h *handler.LockHandler, mw ...echo.MiddlewareFunc) {
	g := e.Group("/v1/shows/:id", mw...)
	g.POST("/seats/:seat/hold", h.Hold)
	g.DELETE("/seats/:seat/hold", h.Release)
	g.POST("/seats/:seat/extend", h.Extend)
	g.POST("/seats/:seat/promote", h.Promote)
	g.GET("/seats/:seat", h.Seat)
	g.GET("/seats", h.Seats)
}

// RegisterEvents registers the propagation endpoints: the SSE stream
// and its poll fallback.  These sit outside the rate limited group;
// polling clients hit /changes every couple of seconds and throttling
// them would defeat the fallback.
func RegisterEvents(e *echo.Echo, h *handler.EventHandler, mw ...echo.MiddlewareFunc) {
	g := e.Group("/v1/shows/:id", mw...)
	g.GET("/events", h.Stream)
	g.GET("/changes", h.Changes)
}

// RegisterCart registers the session cart endpoints.
func RegisterCart(e *echo.Echo, h *handler.CartHandler, mw ...echo.MiddlewareFunc) {
	g := e.Group("/v1/shows/:id/cart", mw...)
	g.POST("/toggle", h.Toggle)
	g.GET("", h.Get)
	g.DELETE("", h.Clear)
}
