package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProvider_SetGet(t *testing.T) {
	m := NewMemoryProvider(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", []byte("v1"), time.Minute))

	got, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	_, err = m.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryProvider_Expiry(t *testing.T) {
	m := NewMemoryProvider(0)
	defer m.Close()
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Second))

	// Still live just before the deadline.
	m.now = func() time.Time { return base.Add(999 * time.Millisecond) }
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	// Expired after the deadline; entry is removed lazily.
	m.now = func() time.Time { return base.Add(2 * time.Second) }
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryProvider_NoTTL(t *testing.T) {
	m := NewMemoryProvider(0)
	defer m.Close()
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }
	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))

	m.now = func() time.Time { return base.Add(24 * time.Hour) }
	_, err := m.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestMemoryProvider_Delete(t *testing.T) {
	m := NewMemoryProvider(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, m.Delete(ctx, "k"))

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryProvider_GetCopies(t *testing.T) {
	m := NewMemoryProvider(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("abc"), time.Minute))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	got[0] = 'x'

	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestNoopProvider(t *testing.T) {
	var p NoopProvider
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := p.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, p.Delete(ctx, "k"))
	assert.NoError(t, p.Close())
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "eureka_confirm_apv-1", sanitizeKey("eureka:confirm:apv-1"))
	assert.Equal(t, "plain.key_ok-123", sanitizeKey("plain.key_ok-123"))
}
