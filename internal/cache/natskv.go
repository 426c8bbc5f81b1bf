package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/nats-io/nats.go"
)

// invalidKeyChars matches characters NATS KV keys may not contain.
var invalidKeyChars = regexp.MustCompile(`[^-/_=.a-zA-Z0-9]`)

// KVProvider implements Provider on a NATS JetStream KeyValue bucket.
//
// JetStream KV expires entries at bucket granularity, so the bucket TTL is
// fixed at construction; the per-call ttl argument is accepted for interface
// compatibility and must not exceed the bucket TTL.
type KVProvider struct {
	kv nats.KeyValue
}

// NewKVProvider binds to (or creates) the named KV bucket with the given
// entry TTL.
func NewKVProvider(nc *nats.Conn, bucket string, ttl time.Duration) (*KVProvider, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("cache: creating JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: bucket,
			TTL:    ttl,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("cache: binding KV bucket %q: %w", bucket, err)
	}

	return &KVProvider{kv: kv}, nil
}

// Get returns the value for key, or ErrCacheMiss if absent.
func (p *KVProvider) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := p.kv.Get(sanitizeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: kv get: %w", err)
	}
	return entry.Value(), nil
}

// Set stores value under key. Expiry follows the bucket TTL.
func (p *KVProvider) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := p.kv.Put(sanitizeKey(key), value); err != nil {
		return fmt.Errorf("cache: kv put: %w", err)
	}
	return nil
}

// Delete removes key if present.
func (p *KVProvider) Delete(_ context.Context, key string) error {
	err := p.kv.Delete(sanitizeKey(key))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("cache: kv delete: %w", err)
	}
	return nil
}

// Close is a no-op; the underlying NATS connection is owned by the caller.
func (p *KVProvider) Close() error { return nil }

// sanitizeKey maps arbitrary cache keys onto the NATS KV key alphabet.
func sanitizeKey(key string) string {
	return invalidKeyChars.ReplaceAllString(key, "_")
}
