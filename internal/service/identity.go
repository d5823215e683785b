package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/iliyamo/theatre-auth/internal/cache"
	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/model"
)

// IdentityResolver looks users up cache-first.  The database stays the
// source of truth: a cache error is logged and treated as a miss, and a
// miss repopulates the cache.
type IdentityResolver struct {
	users UserStore
	cache *cache.Store
	ttl   time.Duration
	log   *slog.Logger
}

func NewIdentityResolver(users UserStore, c *cache.Store, ttl time.Duration, log *slog.Logger) *IdentityResolver {
	return &IdentityResolver{users: users, cache: c, ttl: ttl, log: logger.Resolve(log)}
}

// Resolve returns the view of userID.
func (r *IdentityResolver) Resolve(ctx context.Context, userID string) (model.UserView, error) {
	var v model.UserView
	ok, err := r.cache.Get(ctx, cache.UserKey(userID), &v)
	if err != nil {
		r.log.Warn("identity cache read failed", "user_id", userID, "error", err.Error())
	}
	if ok {
		return v, nil
	}
	u, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return model.UserView{}, err
	}
	return r.Remember(ctx, u), nil
}

// Remember caches the view of u and returns it.
func (r *IdentityResolver) Remember(ctx context.Context, u *model.User) model.UserView {
	v := u.View()
	if err := r.cache.Put(ctx, cache.UserKey(u.ID), v, r.ttl); err != nil {
		r.log.Warn("identity cache write failed", "user_id", u.ID, "error", err.Error())
	}
	return v
}

// Invalidate drops the cached view of userID after its roles, state or
// linked accounts changed.
func (r *IdentityResolver) Invalidate(ctx context.Context, userID string) {
	if err := r.cache.Delete(ctx, cache.UserKey(userID)); err != nil {
		r.log.Warn("identity cache invalidate failed", "user_id", userID, "error", err.Error())
	}
}
