package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theatre-auth/internal/middleware"
	"github.com/iliyamo/theatre-auth/internal/service"
)

// AuthHandler serves login, token refresh, logout, checkout and the OAuth
// endpoints.
type AuthHandler struct {
	Auth    *service.AuthService
	OAuth   *service.OAuthService
	Cookies Cookies
}

func NewAuthHandler(auth *service.AuthService, oauth *service.OAuthService, cookies Cookies) *AuthHandler {
	return &AuthHandler{Auth: auth, OAuth: oauth, Cookies: cookies}
}

type loginReq struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type unlinkReq struct {
	Provider string `json:"provider"`
}

// Login: verify credentials, open a session and set the token cookies.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	res, err := h.Auth.Login(ctx, strings.TrimSpace(req.Login), req.Password, clientMeta(c))
	if err != nil {
		return err
	}
	h.Cookies.setPair(c, res.Tokens)
	return c.JSON(http.StatusOK, res)
}

// Refresh: exchange the refresh token from the cookie, or from the body
// when there is no cookie, for a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw := cookieValue(c, middleware.RefreshCookie)
	if raw == "" {
		var req refreshReq
		if err := bind(c, &req); err != nil {
			return err
		}
		raw = strings.TrimSpace(req.RefreshToken)
	}
	if raw == "" {
		return badRequest("refresh_token required")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	res, err := h.Auth.Refresh(ctx, raw)
	if err != nil {
		return err
	}
	h.Cookies.setPair(c, res.Tokens)
	return c.JSON(http.StatusOK, res)
}

// Logout: close the session of the refresh token and drop the cookies.
// The tokens come from the cookies; API clients may send the access token
// as Bearer and the refresh token in the body instead.
func (h *AuthHandler) Logout(c echo.Context) error {
	access := middleware.AccessToken(c)
	refresh := cookieValue(c, middleware.RefreshCookie)
	if refresh == "" {
		var req refreshReq
		_ = c.Bind(&req)
		refresh = strings.TrimSpace(req.RefreshToken)
	}
	if access == "" || refresh == "" {
		return badRequest("access and refresh tokens required")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Auth.Logout(ctx, access, refresh); err != nil {
		return err
	}
	h.Cookies.clear(c)
	return c.NoContent(http.StatusNoContent)
}

// Checkout: identity and roles of the bearer, for downstream services.
func (h *AuthHandler) Checkout(c echo.Context) error {
	raw := middleware.AccessToken(c)
	if raw == "" {
		return service.ErrInvalidToken
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	out, err := h.Auth.Checkout(ctx, raw)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// OAuthRedirect sends the browser to the provider's sign-in page.
func (h *AuthHandler) OAuthRedirect(c echo.Context) error {
	url, err := h.OAuth.AuthURL(c.Param("provider"))
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, url)
}

// OAuthCallback completes the provider flow and signs the user in.
func (h *AuthHandler) OAuthCallback(c echo.Context) error {
	if e := c.QueryParam("error"); e != "" {
		return badRequest("provider returned %s", e)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	res, err := h.OAuth.Callback(ctx, c.Param("provider"), c.QueryParam("code"), c.QueryParam("state"), clientMeta(c))
	if err != nil {
		return err
	}
	h.Cookies.setPair(c, res.Tokens)
	return c.JSON(http.StatusOK, res)
}

// OAuthUnlink removes one linked provider, or all with provider "all".
func (h *AuthHandler) OAuthUnlink(c echo.Context) error {
	var req unlinkReq
	if err := bind(c, &req); err != nil {
		return err
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return badRequest("provider required")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.OAuth.Unlink(ctx, middleware.UserID(c), provider); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
