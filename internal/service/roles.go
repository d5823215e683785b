package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/theatre-auth/internal/cache"
	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/repository"
)

// RoleService manages roles.  Single roles are cached under their id and
// dropped on every change; role lists expire with the list TTL.
type RoleService struct {
	roles    RoleStore
	identity *IdentityResolver
	cache    *cache.Store
	ttl      time.Duration
	log      *slog.Logger
}

func NewRoleService(roles RoleStore, identity *IdentityResolver, c *cache.Store, ttl time.Duration, log *slog.Logger) *RoleService {
	return &RoleService{roles: roles, identity: identity, cache: c, ttl: ttl, log: logger.Resolve(log)}
}

func validRoleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", badRequest("name is required")
	}
	if len(name) > 50 || model.Slugify(name) == "" {
		return "", badRequest("name is invalid")
	}
	return name, nil
}

// Create adds a role; the slug is derived from its name.
func (s *RoleService) Create(ctx context.Context, name string) (*model.Role, error) {
	name, err := validRoleName(name)
	if err != nil {
		return nil, err
	}
	role, err := s.roles.Create(ctx, name)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, conflict("role already exists")
	}
	return role, err
}

// Get returns a role with its members.
func (s *RoleService) Get(ctx context.Context, id uint64) (*model.Role, error) {
	var role model.Role
	ok, err := s.cache.Get(ctx, cache.RoleKey(id), &role)
	if err != nil {
		s.log.Warn("role cache read failed", "role_id", id, "error", err.Error())
	}
	if ok {
		return &role, nil
	}
	r, err := s.roles.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("role")
	}
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(ctx, cache.RoleKey(id), r, s.ttl); err != nil {
		s.log.Warn("role cache write failed", "role_id", id, "error", err.Error())
	}
	return r, nil
}

// List returns one page of roles.
func (s *RoleService) List(ctx context.Context, p repository.Page) ([]*model.Role, error) {
	p = p.Normalize()
	key := cache.ListKey("roles", p.Params())
	if roles, ok, err := cache.GetList[*model.Role](ctx, s.cache, key); err != nil {
		s.log.Warn("role list cache read failed", "error", err.Error())
	} else if ok {
		return roles, nil
	}
	roles, err := s.roles.List(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := cache.PutList(ctx, s.cache, key, roles, s.ttl); err != nil {
		s.log.Warn("role list cache write failed", "error", err.Error())
	}
	return roles, nil
}

// Rename changes the name and slug of a role.  Members see the new name in
// their cached identity right away.
func (s *RoleService) Rename(ctx context.Context, id uint64, name string) (*model.Role, error) {
	name, err := validRoleName(name)
	if err != nil {
		return nil, err
	}
	role, err := s.roles.Rename(ctx, id, name)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, notFound("role")
	case errors.Is(err, repository.ErrDuplicate):
		return nil, conflict("role already exists")
	case err != nil:
		return nil, err
	}
	s.forget(ctx, role)
	return role, nil
}

// Delete removes a role and all of its grants.
func (s *RoleService) Delete(ctx context.Context, id uint64) error {
	role, err := s.roles.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFound("role")
	}
	if err != nil {
		return err
	}
	if err := s.roles.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("role")
		}
		return err
	}
	s.forget(ctx, role)
	return nil
}

func (s *RoleService) forget(ctx context.Context, role *model.Role) {
	if err := s.cache.Delete(ctx, cache.RoleKey(role.ID)); err != nil {
		s.log.Warn("role cache invalidate failed", "role_id", role.ID, "error", err.Error())
	}
	for _, m := range role.Users {
		s.identity.Invalidate(ctx, m.ID)
	}
}

// UserRoleService grants and revokes roles.  Tokens already issued keep
// their embedded roles until the next refresh.
type UserRoleService struct {
	roles    RoleStore
	identity *IdentityResolver
	cache    *cache.Store
	log      *slog.Logger
}

func NewUserRoleService(roles RoleStore, identity *IdentityResolver, c *cache.Store, log *slog.Logger) *UserRoleService {
	return &UserRoleService{roles: roles, identity: identity, cache: c, log: logger.Resolve(log)}
}

// Grant gives roleID to userID.
func (s *UserRoleService) Grant(ctx context.Context, userID string, roleID uint64) (*model.UserRole, error) {
	ur, err := s.roles.Grant(ctx, userID, roleID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, notFound("user or role")
	case errors.Is(err, repository.ErrDuplicate):
		return nil, conflict("role already granted")
	case err != nil:
		return nil, err
	}
	s.changed(ctx, userID, roleID)
	s.log.Info("role granted", "user_id", userID, "role_id", roleID)
	return ur, nil
}

// Revoke takes roleID away from userID.
func (s *UserRoleService) Revoke(ctx context.Context, userID string, roleID uint64) error {
	if err := s.roles.Revoke(ctx, userID, roleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("user role")
		}
		return err
	}
	s.changed(ctx, userID, roleID)
	s.log.Info("role revoked", "user_id", userID, "role_id", roleID)
	return nil
}

func (s *UserRoleService) changed(ctx context.Context, userID string, roleID uint64) {
	s.identity.Invalidate(ctx, userID)
	if err := s.cache.Delete(ctx, cache.RoleKey(roleID)); err != nil {
		s.log.Warn("role cache invalidate failed", "role_id", roleID, "error", err.Error())
	}
}
