// Package kv is the small key-value contract shared by the permission cache,
// the rate limiter and single-use reset tokens.
//
// Two backends are provided: Redis for multi-instance deployments and a
// bounded in-process LRU for single-instance use and tests.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and Take for missing or expired keys.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("kv: backend unavailable")
)

// Store is a TTL-aware key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Take returns the value and deletes the key in one atomic step.
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	// Increment adds one to the counter at key. The TTL is applied only when
	// the increment creates the key, so a window never slides.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
