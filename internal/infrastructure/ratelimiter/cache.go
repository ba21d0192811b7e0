package ratelimiter

import (
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get for unknown or expired keys. The limiter
// treats a miss as a full bucket.
var ErrCacheMiss = errors.New("cache miss")

// GetterSetter stores bucket counters and fill timestamps. Implementations
// live in this package for memory and Redis.
type GetterSetter interface {
	Get(key string) (int, error)
	Set(key string, value int) error
	SetWithExpiration(key string, value int, expiration time.Duration) error
	Close() error
}
