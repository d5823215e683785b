package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theatre-auth/internal/middleware"
	"github.com/iliyamo/theatre-auth/internal/service"
)

// UserHandler serves the users API, the password reset flow and the
// session history.
type UserHandler struct {
	Users    *service.UserService
	Sessions *service.SessionService
}

func NewUserHandler(u *service.UserService, s *service.SessionService) *UserHandler {
	return &UserHandler{Users: u, Sessions: s}
}

type bulkReq struct {
	IDs []string `json:"ids"`
}

type resetReq struct {
	Email string `json:"email"`
}

type resetConfirmReq struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

func (h *UserHandler) List(c echo.Context) error {
	p, err := pageFrom(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	users, err := h.Users.List(ctx, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"items": users, "limit": p.Limit, "offset": p.Offset})
}

func (h *UserHandler) Get(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	v, err := h.Users.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

// Bulk returns the users among the posted ids that exist.
func (h *UserHandler) Bulk(c echo.Context) error {
	var req bulkReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	users, err := h.Users.Bulk(ctx, req.IDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"items": users})
}

// ListSessions returns the login history of a user.
func (h *UserHandler) ListSessions(c echo.Context) error {
	p, err := pageFrom(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	sessions, err := h.Sessions.List(ctx, middleware.UserID(c), middleware.Roles(c), c.Param("id"), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"items": sessions, "limit": p.Limit, "offset": p.Offset})
}

// RequestReset mails a password reset link.
func (h *UserHandler) RequestReset(c echo.Context) error {
	var req resetReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Users.RequestPasswordReset(ctx, req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, echo.Map{"message": "reset link sent"})
}

// ConfirmReset sets the new password from a reset link.
func (h *UserHandler) ConfirmReset(c echo.Context) error {
	var req resetConfirmReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Users.ConfirmPasswordReset(ctx, c.Param("token"), req.Password, req.PasswordConfirm); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed"})
}
