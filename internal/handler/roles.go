package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theatre-auth/internal/service"
)

// RoleHandler serves role management and role grants.  All of it sits
// behind the admin guard.
type RoleHandler struct {
	Roles  *service.RoleService
	Grants *service.UserRoleService
}

func NewRoleHandler(r *service.RoleService, g *service.UserRoleService) *RoleHandler {
	return &RoleHandler{Roles: r, Grants: g}
}

type roleReq struct {
	Name string `json:"name"`
}

type userRoleReq struct {
	UserID string `json:"user_id"`
	RoleID uint64 `json:"role_id"`
}

func roleID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid role id")
	}
	return id, nil
}

func (h *RoleHandler) List(c echo.Context) error {
	p, err := pageFrom(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	roles, err := h.Roles.List(ctx, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"items": roles, "limit": p.Limit, "offset": p.Offset})
}

func (h *RoleHandler) Create(c echo.Context) error {
	var req roleReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	role, err := h.Roles.Create(ctx, req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, role)
}

func (h *RoleHandler) Get(c echo.Context) error {
	id, err := roleID(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	role, err := h.Roles.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, role)
}

func (h *RoleHandler) Update(c echo.Context) error {
	id, err := roleID(c)
	if err != nil {
		return err
	}
	var req roleReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	role, err := h.Roles.Rename(ctx, id, req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, role)
}

func (h *RoleHandler) Delete(c echo.Context) error {
	id, err := roleID(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Roles.Delete(ctx, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *RoleHandler) Grant(c echo.Context) error {
	var req userRoleReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.UserID == "" || req.RoleID == 0 {
		return badRequest("user_id and role_id required")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	ur, err := h.Grants.Grant(ctx, req.UserID, req.RoleID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ur)
}

func (h *RoleHandler) Revoke(c echo.Context) error {
	var req userRoleReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.UserID == "" || req.RoleID == 0 {
		return badRequest("user_id and role_id required")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Grants.Revoke(ctx, req.UserID, req.RoleID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
