package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/godown/billing-engine/cache"
)

func TestMemoryInvalidate(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	m.Set(ctx, "views:customer:cust-1", []byte(`{"due":"100"}`))
	m.Set(ctx, "views:record:rec-1", []byte(`{}`))

	require.NoError(t, m.Invalidate(ctx, "views:customer:cust-1", "views:ghost"))

	_, ok := m.Get(ctx, "views:customer:cust-1")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "views:record:rec-1")
	assert.True(t, ok)
}

func TestInvalidateNoKeys(t *testing.T) {
	m := cache.NewMemory()
	assert.NoError(t, m.Invalidate(context.Background()))
}

func TestNewFromConfigDefaultsToMemory(t *testing.T) {
	c := cache.NewFromConfig(cache.Config{Backend: "memory"}, zap.NewNop())
	_, ok := c.(*cache.Memory)
	assert.True(t, ok)
}

func TestNewFromConfigFallsBackWhenRedisUnreachable(t *testing.T) {
	// A closed local port makes the ping fail immediately.
	c := cache.NewFromConfig(cache.Config{Backend: "redis", Addr: "127.0.0.1:1"}, zap.NewNop())
	_, ok := c.(*cache.Memory)
	assert.True(t, ok)
}
