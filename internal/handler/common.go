package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theatre-auth/internal/middleware"
	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/repository"
	"github.com/iliyamo/theatre-auth/internal/service"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

// requestTimeout bounds the storage work behind one request.
const requestTimeout = 5 * time.Second

func requestCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", service.ErrBadRequest, fmt.Sprintf(format, args...))
}

// bind decodes the request body into v.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return badRequest("invalid body")
	}
	return nil
}

// pageFrom reads limit, offset and desc from the query string.
func pageFrom(c echo.Context) (repository.Page, error) {
	var p repository.Page
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, badRequest("limit must be a non-negative number")
		}
		p.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, badRequest("offset must be a non-negative number")
		}
		p.Offset = n
	}
	if v := c.QueryParam("desc"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, badRequest("desc must be a boolean")
		}
		p.Desc = b
	}
	return p.Normalize(), nil
}

func clientMeta(c echo.Context) model.ClientMeta {
	return model.ClientMeta{IPAddress: c.RealIP(), UserAgent: c.Request().UserAgent()}
}

// Cookies holds the attributes of the token cookies.
type Cookies struct {
	Secure bool
}

func (k Cookies) set(c echo.Context, name string, tok utils.IssuedToken) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    tok.Token,
		Path:     "/",
		Expires:  tok.Exp,
		HttpOnly: true,
		Secure:   k.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (k Cookies) setPair(c echo.Context, pair utils.TokenPair) {
	k.set(c, middleware.AccessCookie, pair.Access)
	k.set(c, middleware.RefreshCookie, pair.Refresh)
}

func (k Cookies) clear(c echo.Context) {
	for _, name := range []string{middleware.AccessCookie, middleware.RefreshCookie} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   k.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func cookieValue(c echo.Context, name string) string {
	if ck, err := c.Cookie(name); err == nil {
		return ck.Value
	}
	return ""
}
