package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// sessionCookie names the cookie carrying the anonymous session id.
const sessionCookie = "seat_session"

// sessionKey is the echo context key holding the resolved session id.
const sessionKey = "session_id"

// Session resolves the caller's session identity.  Holds are owned by
// sessions rather than accounts, so every request needs one: the
// middleware takes the X-Session-Id header when present, falls back to
// the session cookie, and mints a fresh UUID otherwise.  Newly minted
// ids are echoed back as a cookie so subsequent requests from the same
// browser keep their holds.
func Session() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sid := c.Request().Header.Get("X-Session-Id")
			if sid == "" {
				if ck, err := c.Cookie(sessionCookie); err == nil && ck.Value != "" {
					sid = ck.Value
				}
			}
			if _, err := uuid.Parse(sid); err != nil {
				sid = uuid.NewString()
				c.SetCookie(&http.Cookie{
					Name:     sessionCookie,
					Value:    sid,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
					Expires:  time.Now().Add(24 * time.Hour),
				})
			}
			c.Set(sessionKey, sid)
			return next(c)
		}
	}
}

// SessionID returns the session id resolved by Session, or "" when the
// middleware did not run.
func SessionID(c echo.Context) string {
	sid, _ := c.Get(sessionKey).(string)
	return sid
}
