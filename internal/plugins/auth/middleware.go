package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/mossfield/farmstead/internal/apperror"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "farmstead_session"

// Context keys set by RequireSession for downstream handlers.
const (
	contextKeySession      = "auth.session"
	contextKeySessionToken = "auth.session_token"
)

// RequireSession returns middleware that loads and validates the session
// cookie. Requests without a valid session get 401 before the handler runs.
func RequireSession(service AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				return apperror.NewUnauthorized("authentication required")
			}

			session, err := service.ValidateSession(c.Request().Context(), cookie.Value)
			if err != nil {
				return err
			}

			c.Set(contextKeySession, session)
			c.Set(contextKeySessionToken, cookie.Value)
			return next(c)
		}
	}
}

// RequireAdmin returns middleware that rejects non-admin sessions. Must be
// registered after RequireSession. A session with no role fails closed.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session := GetSession(c)
			if session == nil || !session.IsAdmin() {
				return apperror.NewForbidden("administrator access required")
			}
			return next(c)
		}
	}
}

// GetSession returns the session set by RequireSession, or nil.
func GetSession(c echo.Context) *Session {
	session, _ := c.Get(contextKeySession).(*Session)
	return session
}

// GetSessionToken returns the raw session token set by RequireSession.
func GetSessionToken(c echo.Context) string {
	token, _ := c.Get(contextKeySessionToken).(string)
	return token
}

// GetUserID returns the authenticated user's id, or 0 when no session is
// attached.
func GetUserID(c echo.Context) int64 {
	if session := GetSession(c); session != nil {
		return session.UserID
	}
	return 0
}
