package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Reloader 测试
// =============================================================================

func TestReloader_ApplyNotifiesCallbacks(t *testing.T) {
	r := NewReloader(DefaultConfig(), WithReloaderLogger(zap.NewNop()))

	var gotOld, gotNew *Config
	r.OnReload(func(o, n *Config) error {
		gotOld, gotNew = o, n
		return nil
	})

	next := DefaultConfig()
	next.Conductor.MaxAutoReplies = 3
	next.Conductor.HushPresets = []int{2}
	require.NoError(t, r.Apply(next, "api"))

	require.NotNil(t, gotNew)
	assert.Equal(t, 8, gotOld.Conductor.MaxAutoReplies)
	assert.Equal(t, 3, gotNew.Conductor.MaxAutoReplies)
	assert.Equal(t, 3, r.Config().Conductor.MaxAutoReplies)
	assert.Equal(t, 2, r.Version())

	changes := r.ChangeLog(0)
	require.Len(t, changes, 2)
	for _, c := range changes {
		assert.Equal(t, "api", c.Source)
		assert.False(t, c.RequiresRestart, c.Path)
	}
}

func TestReloader_UnchangedConfigIsNoop(t *testing.T) {
	r := NewReloader(DefaultConfig())
	calls := 0
	r.OnReload(func(_, _ *Config) error { calls++; return nil })

	require.NoError(t, r.Apply(DefaultConfig(), "file"))
	assert.Zero(t, calls)
	assert.Equal(t, 1, r.Version())
}

func TestReloader_RestartRequiredFields(t *testing.T) {
	r := NewReloader(DefaultConfig())

	next := DefaultConfig()
	next.Server.HTTPPort = 9000
	next.Log.Level = "debug"
	next.Redis.Password = "hunter2"
	require.NoError(t, r.Apply(next, "file"))

	byPath := map[string]ConfigChange{}
	for _, c := range r.ChangeLog(10) {
		byPath[c.Path] = c
	}
	assert.True(t, byPath["Server.HTTPPort"].RequiresRestart)
	assert.False(t, byPath["Log.Level"].RequiresRestart)
	assert.True(t, byPath["Redis.Password"].RequiresRestart)
	assert.True(t, isSensitiveField("Redis.Password"))
	assert.True(t, isSensitiveField("LLM.APIKey"))
	assert.False(t, isSensitiveField("Conductor.MaxAutoReplies"))
}

func TestReloader_InvalidConfigRejected(t *testing.T) {
	r := NewReloader(DefaultConfig())
	called := false
	r.OnReload(func(_, _ *Config) error { called = true; return nil })

	bad := DefaultConfig()
	bad.Conductor.MaxAutoReplies = -1
	require.Error(t, r.Apply(bad, "file"))

	assert.False(t, called)
	assert.Equal(t, 8, r.Config().Conductor.MaxAutoReplies)
}

func TestReloader_ValidateHook(t *testing.T) {
	r := NewReloader(DefaultConfig(), WithValidateFunc(func(c *Config) error {
		if c.Conductor.MaxAutoReplies > 20 {
			return errors.New("too chatty")
		}
		return nil
	}))

	next := DefaultConfig()
	next.Conductor.MaxAutoReplies = 50
	err := r.Apply(next, "api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too chatty")
}

func TestReloader_CallbackFailureRollsBack(t *testing.T) {
	r := NewReloader(DefaultConfig())

	var applied []int
	r.OnReload(func(_, n *Config) error {
		applied = append(applied, n.Conductor.MaxAutoReplies)
		return nil
	})
	r.OnReload(func(_, n *Config) error {
		if n.Conductor.MaxAutoReplies == 2 {
			return errors.New("refused")
		}
		return nil
	})

	next := DefaultConfig()
	next.Conductor.MaxAutoReplies = 2
	err := r.Apply(next, "file")
	require.Error(t, err)

	assert.Equal(t, 8, r.Config().Conductor.MaxAutoReplies)
	// 第一个订阅方先收到新值，再被恢复到旧值
	assert.Equal(t, []int{2, 8}, applied)
}

func TestReloader_CallbackPanicRollsBack(t *testing.T) {
	r := NewReloader(DefaultConfig())
	r.OnReload(func(_, n *Config) error {
		if n.Conductor.RecentWindow == 3 {
			panic("boom")
		}
		return nil
	})

	next := DefaultConfig()
	next.Conductor.RecentWindow = 3
	err := r.Apply(next, "file")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 10, r.Config().Conductor.RecentWindow)
}

func TestReloader_ConfigIsCopy(t *testing.T) {
	r := NewReloader(DefaultConfig())
	c := r.Config()
	c.Conductor.HushPresets[0] = 99
	assert.Equal(t, 1, r.Config().Conductor.HushPresets[0])
}

func TestReloader_ReloadFromFile(t *testing.T) {
	r := NewReloader(DefaultConfig())
	assert.Error(t, r.ReloadFromFile(), "no path configured")

	path := filepath.Join(t.TempDir(), "council.yaml")
	writeFile(t, path, "conductor:\n  max_auto_replies: 5\n")
	r = NewReloader(DefaultConfig(), WithReloadPath(path))
	require.NoError(t, r.ReloadFromFile())
	assert.Equal(t, 5, r.Config().Conductor.MaxAutoReplies)
}

func TestReloader_WatchesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "council.yaml")
	writeFile(t, path, "conductor:\n  max_auto_replies: 8\n")

	r := NewReloader(DefaultConfig(), WithReloadPath(path))
	var (
		mu  sync.Mutex
		got []int
	)
	r.OnReload(func(_, n *Config) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n.Conductor.MaxAutoReplies)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, "conductor:\n  max_auto_replies: 4\n")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1] == 4
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 4, r.Config().Conductor.MaxAutoReplies)
}
