// 配置加载器与默认配置测试。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)

	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "council:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 24*time.Hour, cfg.Redis.StateTTL)

	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "GEMINI_API_KEY", cfg.LLM.APIKeyEnv)

	assert.Equal(t, 8, cfg.Conductor.MaxAutoReplies)
	assert.Equal(t, 100000, cfg.Conductor.TokenBudgetDefault)
	assert.Equal(t, 50000, cfg.Conductor.TokenWarningThreshold)
	assert.Equal(t, 10, cfg.Conductor.RecentWindow)
	assert.Equal(t, []int{1, 3, 5}, cfg.Conductor.HushPresets)
	assert.InDelta(t, 0.3, cfg.Conductor.SelectorTemperature, 0.001)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Archive.Enabled)
	assert.False(t, cfg.Auth.Enabled)
	assert.Contains(t, cfg.Auth.SkipPaths, "/health")

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "council.yaml")
	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
database:
  driver: postgres
  host: db.internal
  name: council
conductor:
  max_auto_replies: 4
  token_budget_default: 20000
  token_warning_threshold: 15000
  hush_presets: [2, 4]
redis:
  enabled: true
  addr: cache:6379
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 4, cfg.Conductor.MaxAutoReplies)
	assert.Equal(t, []int{2, 4}, cfg.Conductor.HushPresets)
	assert.True(t, cfg.Redis.Enabled)
	// 未出现在文件中的字段保留默认值
	assert.Equal(t, 10, cfg.Conductor.RecentWindow)
	assert.Equal(t, "council:", cfg.Redis.KeyPrefix)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("COUNCIL_SERVER_HTTP_PORT", "7777")
	t.Setenv("COUNCIL_SERVER_RATE_LIMIT_RPS", "2.5")
	t.Setenv("COUNCIL_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("COUNCIL_REDIS_ENABLED", "true")
	t.Setenv("COUNCIL_REDIS_STATE_TTL", "2h")
	t.Setenv("COUNCIL_CONDUCTOR_MAX_AUTO_REPLIES", "3")
	t.Setenv("COUNCIL_CONDUCTOR_HUSH_PRESETS", "2, 6,9")
	t.Setenv("COUNCIL_AUTH_JWT_ISSUER", "council-test")
	t.Setenv("COUNCIL_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.InDelta(t, 2.5, cfg.Server.RateLimitRPS, 0.001)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 2*time.Hour, cfg.Redis.StateTTL)
	assert.Equal(t, 3, cfg.Conductor.MaxAutoReplies)
	assert.Equal(t, []int{2, 6, 9}, cfg.Conductor.HushPresets)
	assert.Equal(t, "council-test", cfg.Auth.JWT.Issuer)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "council.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
server:
  http_port: 8888
llm:
  base_url: "https://yaml.example"
  max_retries: 5
`), 0o644))

	t.Setenv("COUNCIL_SERVER_HTTP_PORT", "9999")
	t.Setenv("COUNCIL_LLM_BASE_URL", "https://env.example")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "https://env.example", cfg.LLM.BaseURL)
	assert.Equal(t, 5, cfg.LLM.MaxRetries)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_BadEnvValue(t *testing.T) {
	tests := map[string]string{
		"COUNCIL_SERVER_HTTP_PORT":       "eighty",
		"COUNCIL_REDIS_STATE_TTL":        "forever",
		"COUNCIL_CONDUCTOR_HUSH_PRESETS": "1,x",
		"COUNCIL_REDIS_ENABLED":          "maybe",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := NewLoader().Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoader_WithValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return errors.New("nope") }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	cfg, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/council.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "unsupported database driver"},
		{"zero auto replies", func(c *Config) { c.Conductor.MaxAutoReplies = 0 }, "max_auto_replies"},
		{"warning above budget", func(c *Config) { c.Conductor.TokenWarningThreshold = 200000 }, "token_warning_threshold"},
		{"negative preset", func(c *Config) { c.Conductor.HushPresets = []int{3, -1} }, "hush_presets"},
		{"hot temperature", func(c *Config) { c.Conductor.SelectorTemperature = 3 }, "selector_temperature"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "openai" }, "unsupported llm provider"},
		{"archive without uri", func(c *Config) { c.Archive.Enabled = true; c.Archive.MongoURI = "" }, "mongo_uri"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.jwt"},
		{"auth with secret", func(c *Config) { c.Auth.Enabled = true; c.Auth.JWT.Secret = "s" }, ""},
		{"cert without key", func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, "tls_key_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{"postgres", "host=db port=5432 user=u password=p dbname=council sslmode=disable"},
		{"mysql", "u:p@tcp(db:5432)/council?parseTime=true"},
		{"sqlite", "council"},
		{"sqlite3", "council"},
		{"memory", ""},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d := DatabaseConfig{
				Driver: tt.driver, Host: "db", Port: 5432,
				User: "u", Password: "p", Name: "council", SSLMode: "disable",
			}
			assert.Equal(t, tt.want, d.DSN())
		})
	}
}

func TestMustLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "council.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 1234\n"), 0o644))
	assert.Equal(t, 1234, MustLoad(configPath).Server.HTTPPort)

	// yaml 语法错误与类型错误都必须 panic
	for name, content := range map[string]string{
		"unclosed flow sequence": "server: [unclosed\n",
		"port not a number":      "server:\n  http_port: not-a-number\n",
	} {
		t.Run(name, func(t *testing.T) {
			bad := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(bad, []byte(content), 0o644))
			assert.Panics(t, func() { MustLoad(bad) })
		})
	}
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("COUNCIL_DATABASE_DRIVER", "memory")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
}
