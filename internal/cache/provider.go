// Package cache provides the TTL key-value capability used for message
// deduplication and confirmation-result caching.
//
// The Provider interface is deliberately narrow: get, set-with-TTL, close.
// Implementations include an in-memory store and a NATS JetStream KeyValue
// bucket. Callers must tolerate cache unavailability; the pipeline degrades
// rather than blocks when the cache is down.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss signals that a key was not found or has expired.
var ErrCacheMiss = errors.New("cache miss")

// Provider defines the minimal cache operations the pipeline needs.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NoopProvider implements Provider but never stores data. Used when the
// pipeline runs in degraded mode without a cache.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// Delete is a no-op.
func (NoopProvider) Delete(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
