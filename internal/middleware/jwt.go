package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/service"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

// AccessCookie and RefreshCookie name the cookies login sets.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// Authenticator is the part of service.AuthService the guards use.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*utils.Claims, model.UserView, error)
	CheckAccess(ctx context.Context, level model.AccessLevel, accessToken string) (*utils.Claims, model.UserView, error)
}

// AccessToken reads the access token from the access_token cookie, or
// from an "Authorization: Bearer" header when there is no cookie.
func AccessToken(c echo.Context) string {
	if ck, err := c.Cookie(AccessCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RequireToken admits any request with a valid access token whose user
// still exists, and stores the user id and token roles in the context.
func RequireToken(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := AccessToken(c)
			if raw == "" {
				return service.ErrInvalidToken
			}
			claims, _, err := auth.Authenticate(c.Request().Context(), raw)
			if err != nil {
				return err
			}
			setCaller(c, claims)
			return next(c)
		}
	}
}

func setCaller(c echo.Context, claims *utils.Claims) {
	c.Set(ctxUserID, claims.Subject)
	c.Set(ctxRoles, claims.Roles)
}
