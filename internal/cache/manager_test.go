package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "apq:",
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "abc", "{ me { id } }", 0))

	value, err := manager.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "{ me { id } }", value)

	// 键带前缀落盘，默认 TTL 生效
	assert.True(t, mr.Exists("apq:abc"))
	assert.Equal(t, time.Minute, mr.TTL("apq:abc"))
}

func TestManager_Miss(t *testing.T) {
	_, manager := setupTestRedis(t)

	value, err := manager.Get(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
	assert.Empty(t, value)
}

func TestManager_Delete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, manager.Delete(ctx, "k"))
	require.NoError(t, manager.Delete(ctx))

	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_TTLAndTouch(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "ttl", "value", 100*time.Millisecond))
	require.NoError(t, manager.Touch(ctx, "ttl", time.Second))

	mr.FastForward(200 * time.Millisecond)
	_, err := manager.Get(ctx, "ttl")
	require.NoError(t, err)

	mr.FastForward(time.Second)
	_, err = manager.Get(ctx, "ttl")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.ErrorIs(t, manager.Touch(ctx, "ttl", time.Second), ErrCacheMiss)
}

func TestManager_Ping(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	assert.NoError(t, manager.Ping(ctx))
	mr.SetError("server down")
	assert.Error(t, manager.Ping(ctx))
}

func TestManager_ConnectFailure(t *testing.T) {
	manager, err := NewManager(Config{Addr: "127.0.0.1:1"}, nil)
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	ctx := context.Background()
	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
}

func TestManager_ConcurrentOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-%d", id)
			assert.NoError(t, manager.Set(ctx, key, "value", time.Minute))
			value, err := manager.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, "value", value)
		}(i)
	}
	wg.Wait()
}
