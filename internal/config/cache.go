package config

import (
	"os"
	"time"
)

// CacheConfig defines the lifetimes of the entries kept in Redis.  When no
// Redis client is available the cache is disabled and every read misses.
// Prefix namespaces all keys so several deployments can share one Redis.
type CacheConfig struct {
	IdentityTTL time.Duration // cached user views, read on every token check
	ListTTL     time.Duration // cached list and object responses
	ResetTTL    time.Duration // reset-password throttle window
	Prefix      string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// Defaults are used when variables are not set.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		IdentityTTL: envDur("CACHE_IDENTITY_TTL", 24*time.Hour),
		ListTTL:     envDur("CACHE_LIST_TTL", 10*time.Minute),
		ResetTTL:    envDur("CACHE_RESET_TTL", 5*time.Minute),
		Prefix:      getenv("CACHE_PREFIX", "auth"),
	}
}

// Helper reused from config.go and redis.go
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
