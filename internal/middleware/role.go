package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/service"
)

type accessOptions struct {
	services bool
}

// AccessOption tunes RequireAccess.
type AccessOption func(*accessOptions)

// AllowServices lets calls marked by ServiceAuth through without a user
// token.  Only the role gate is skipped; the handler still runs its own
// checks.
func AllowServices() AccessOption {
	return func(o *accessOptions) { o.services = true }
}

// RequireAccess stops the request unless the caller's token roles meet
// level.  Failures are returned as service errors and rendered by the
// HTTP error handler.
func RequireAccess(auth Authenticator, level model.AccessLevel, opts ...AccessOption) echo.MiddlewareFunc {
	var o accessOptions
	for _, opt := range opts {
		opt(&o)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if o.services && Service(c) != "" {
				return next(c)
			}
			raw := AccessToken(c)
			if raw == "" {
				return service.ErrInvalidToken
			}
			claims, _, err := auth.CheckAccess(c.Request().Context(), level, raw)
			if err != nil {
				return err
			}
			setCaller(c, claims)
			return next(c)
		}
	}
}
