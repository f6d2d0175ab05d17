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

	config := Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "test:",
		DefaultTTL: 1 * time.Minute,
	}

	manager, err := NewManager(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "session:s1", "idle", time.Minute))

	value, err := manager.Get(ctx, "session:s1")
	require.NoError(t, err)
	assert.Equal(t, "idle", value)

	// 键带前缀写入
	assert.True(t, mr.Exists("test:session:s1"))
}

func TestManager_GetMiss(t *testing.T) {
	_, manager := setupTestRedis(t)

	value, err := manager.Get(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
	assert.Equal(t, "", value)

	var dest map[string]any
	assert.True(t, IsCacheMiss(manager.GetJSON(context.Background(), "missing", &dest)))
}

func TestManager_Delete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, manager.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, manager.Delete(ctx, "a", "b"))
	require.NoError(t, manager.Delete(ctx))

	n, err := manager.Exists(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestManager_JSON(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	type model struct {
		ID    string `json:"id"`
		Limit int    `json:"limit"`
	}
	in := []model{{ID: "gemini-2.0-flash", Limit: 8192}}

	require.NoError(t, manager.SetJSON(ctx, "models", in, time.Minute))

	var out []model
	require.NoError(t, manager.GetJSON(ctx, "models", &out))
	assert.Equal(t, in, out)

	// 无法序列化
	assert.Error(t, manager.SetJSON(ctx, "bad", make(chan int), time.Minute))

	// 非 JSON 内容
	require.NoError(t, manager.Set(ctx, "raw", "not json", time.Minute))
	assert.Error(t, manager.GetJSON(ctx, "raw", &out))
}

func TestManager_TTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "short", "v", 100*time.Millisecond))
	require.NoError(t, manager.Set(ctx, "default", "v", 0))

	// ttl 为 0 时使用默认过期时间；FastForward 会让所有键一起老化，先断言
	assert.Equal(t, time.Minute, mr.TTL("test:default"))

	mr.FastForward(200 * time.Millisecond)

	_, err := manager.Get(ctx, "short")
	assert.True(t, IsCacheMiss(err))

	v, err := manager.Get(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, time.Minute-200*time.Millisecond, mr.TTL("test:default"))
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	_, err := manager.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)
}

func TestNewManager_Unreachable(t *testing.T) {
	manager, err := NewManager(Config{Addr: "localhost:1"}, zap.NewNop())
	assert.Nil(t, manager)
	assert.Error(t, err)
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
			v, err := manager.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, "value", v)
		}(i)
	}
	wg.Wait()
}

func TestParseInfo(t *testing.T) {
	info := "# Stats\r\nkeyspace_hits:42\r\nkeyspace_misses:7\r\n# Memory\r\nused_memory:1024\r\n# Clients\r\nconnected_clients:3\r\n"
	stats := parseInfo(info)

	assert.Equal(t, uint64(42), stats.Hits)
	assert.Equal(t, uint64(7), stats.Misses)
	assert.Equal(t, int64(1024), stats.UsedMemory)
	assert.Equal(t, 3, stats.Connections)
}
