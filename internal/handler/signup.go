package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theatre-auth/internal/service"
)

type SignupHandler struct {
	Signup *service.SignupService
}

func NewSignupHandler(s *service.SignupService) *SignupHandler {
	return &SignupHandler{Signup: s}
}

// Register creates an inactive account and mails the confirmation link.
func (h *SignupHandler) Register(c echo.Context) error {
	var in service.SignupInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	view, err := h.Signup.Register(ctx, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, view)
}

// Confirm activates the account named in the link.
func (h *SignupHandler) Confirm(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Signup.Confirm(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "account activated"})
}
