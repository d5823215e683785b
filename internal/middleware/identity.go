package middleware

import (
	"github.com/labstack/echo/v4"
)

// Context keys set by the guards.
const (
	ctxUserID  = "user_id"
	ctxRoles   = "roles"
	ctxService = "service"
)

// UserID returns the authenticated user's id, or "" for anonymous and
// service calls.
func UserID(c echo.Context) string {
	s, _ := c.Get(ctxUserID).(string)
	return s
}

// Roles returns the roles carried by the request's access token.
func Roles(c echo.Context) []string {
	r, _ := c.Get(ctxRoles).([]string)
	return r
}

// Service returns the id of the calling service when the request carried
// an accepted X-Service-Token.
func Service(c echo.Context) string {
	s, _ := c.Get(ctxService).(string)
	return s
}

// currentUserID names the caller for rate limit keys.
func currentUserID(c echo.Context) string {
	if s := UserID(c); s != "" {
		return s
	}
	if s := Service(c); s != "" {
		return "svc-" + s
	}
	return "anon"
}
