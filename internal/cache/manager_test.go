package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
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

	config := DefaultConfig()
	config.Addr = mr.Addr()
	config.HealthCheckInterval = 0

	manager, err := NewManager(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return mr, manager
}

func TestManager_Key(t *testing.T) {
	_, manager := setupTestRedis(t)
	assert.Equal(t, "agentrewind:branch:3", manager.Key("branch", "3"))

	manager.config.KeyPrefix = ""
	assert.Equal(t, "tree", manager.Key("tree"))
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", []byte(`{"a":1}`), 0))
	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(value))
	assert.Zero(t, mr.TTL("k"))
}

func TestManager_GetMissing(t *testing.T) {
	_, manager := setupTestRedis(t)

	_, err := manager.Get(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_TTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "short", []byte("v"), 100*time.Millisecond))
	mr.FastForward(200 * time.Millisecond)

	_, err := manager.Get(ctx, "short")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_TxAndMembers(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	err := manager.Tx(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, "a", "1", 0)
		pipe.SAdd(ctx, "ids", "2", "1")
		return nil
	})
	require.NoError(t, err)

	members, err := manager.Members(ctx, "ids")
	require.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"1", "2"}, members)

	require.NoError(t, manager.Delete(ctx, "a", "ids"))
	members, err = manager.Members(ctx, "ids")
	require.NoError(t, err)
	assert.Empty(t, members)
	require.NoError(t, manager.Delete(ctx))
}

func TestManager_Stats(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, manager.Set(ctx, "a", []byte("1"), 0))

	stats, err := manager.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Keys)
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	ctx := context.Background()
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
	_, err := manager.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_Unreachable(t *testing.T) {
	config := DefaultConfig()
	config.Addr = "localhost:1"
	config.DialTimeout = 200 * time.Millisecond
	config.MaxRetries = -1

	manager, err := NewManager(config, nil)
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManager_HealthCheckLoopStops(t *testing.T) {
	mr := miniredis.RunT(t)
	config := DefaultConfig()
	config.Addr = mr.Addr()
	config.HealthCheckInterval = 10 * time.Millisecond

	manager, err := NewManager(config, zap.NewNop())
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, manager.Close())
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
			assert.NoError(t, manager.Set(ctx, key, []byte("value"), 0))
			value, err := manager.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, "value", string(value))
		}(i)
	}
	wg.Wait()
}
