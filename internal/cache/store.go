// Package cache is a thin JSON layer over Redis.  The cache is advisory:
// a Store without a client misses on every read and drops every write, so
// callers always fall back to the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/theatre-auth/internal/utils"
)

// Store reads and writes JSON encoded values under namespaced keys.
type Store struct {
	rdb    *redis.Client
	prefix string
	retry  utils.RetryPolicy
}

// New wraps rdb.  A nil rdb yields a disabled store.
func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix, retry: utils.DefaultRetry}
}

// Enabled reports whether a Redis client is configured.
func (s *Store) Enabled() bool { return s != nil && s.rdb != nil }

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get decodes the value under key into dst.  A missing key reports
// (false, nil).
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	var raw []byte
	err := utils.Retry(ctx, s.retry, func(ctx context.Context) error {
		b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return utils.Permanent(err)
		}
		raw = b
		return err
	})
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// a value we cannot decode is as good as absent
		_ = s.rdb.Del(ctx, s.key(key)).Err()
		return false, nil
	}
	return true, nil
}

// Put stores v under key for ttl.
func (s *Store) Put(ctx context.Context, key string, v any, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	err = utils.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.rdb.Set(ctx, s.key(key), b, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// SetNX stores v under key only when the key is absent.  It reports
// whether the value was written.
func (s *Store) SetNX(ctx context.Context, key string, v any, ttl time.Duration) (bool, error) {
	if !s.Enabled() {
		return true, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("cache encode %s: %w", key, err)
	}
	var ok bool
	err = utils.Retry(ctx, s.retry, func(ctx context.Context) error {
		res, err := s.rdb.SetArgs(ctx, s.key(key), b, redis.SetArgs{Mode: "NX", TTL: ttl}).Result()
		if errors.Is(err, redis.Nil) {
			ok = false
			return nil
		}
		if err != nil {
			return err
		}
		ok = res == "OK"
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cache setnx %s: %w", key, err)
	}
	return ok, nil
}

// Delete removes keys.  Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if !s.Enabled() || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	err := utils.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.rdb.Del(ctx, full...).Err()
	})
	if err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// GetList reads a cached list.  The slice is non-nil on a hit, even when
// the cached list was empty.
func GetList[T any](ctx context.Context, s *Store, key string) ([]T, bool, error) {
	var items []T
	ok, err := s.Get(ctx, key, &items)
	if err != nil || !ok {
		return nil, false, err
	}
	if items == nil {
		items = []T{}
	}
	return items, true, nil
}

// PutList caches items under key for ttl.
func PutList[T any](ctx context.Context, s *Store, key string, items []T, ttl time.Duration) error {
	if items == nil {
		items = []T{}
	}
	return s.Put(ctx, key, items, ttl)
}
