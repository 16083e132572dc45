// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envMap 构造确定性的环境变量读取函数
func envMap(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(envMap(nil)).Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 80, cfg.Server.HTTPPort)
	assert.Equal(t, "/data/supergraph.graphql", cfg.Schema.Path)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, cfg.Server.CORSAllowedOrigins)
	assert.False(t, cfg.Debug)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  graphql_path: /graphql
  cors_allowed_origins:
    - https://app.example.com
auth:
  jwt_secret: "s3cret"
debug: true
schema:
  path: /etc/fedgateway/supergraph.graphql
  history_size: 5
services:
  - name: accounts
    url: http://accounts.internal:4001/graphql
apq:
  redis_addr: "redis.example.com:6379"
log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		WithEnvLookup(envMap(nil)).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/graphql", cfg.Server.GraphQLPath)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/etc/fedgateway/supergraph.graphql", cfg.Schema.Path)
	assert.Equal(t, 5, cfg.Schema.HistorySize)
	assert.Equal(t, map[string]string{"accounts": "http://accounts.internal:4001/graphql"}, cfg.ServiceURLs())
	assert.Equal(t, "redis.example.com:6379", cfg.APQ.RedisAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// 未出现在 YAML 中的字段保持默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 250*time.Millisecond, cfg.Schema.Debounce)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(envMap(map[string]string{
		"FEDGATEWAY_SERVER_HTTP_PORT":            "4000",
		"FEDGATEWAY_SERVER_CORS_ALLOWED_ORIGINS": "https://a.example.com, https://b.example.com",
		"FEDGATEWAY_SCHEMA_POLL_INTERVAL":        "5s",
		"FEDGATEWAY_DEBUG":                       "yes",
		"FEDGATEWAY_APQ_ENABLED":                 "false",
		"FEDGATEWAY_TELEMETRY_SAMPLE_RATE":       "0.5",
	})).Load()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Schema.PollInterval)
	assert.True(t, cfg.Debug)
	assert.False(t, cfg.APQ.Enabled)
	assert.InDelta(t, 0.5, cfg.Telemetry.SampleRate, 0.0001)
}

func TestLoader_LegacyEnv(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(envMap(map[string]string{
		"PORT":            "4000",
		"JWT_SECRET":      "legacy-secret",
		"ALLOWED_ORIGINS": "localhost  https://studio.apollographql.com",
		"DEBUG":           "1",
		"SUPERGRAPH_PATH": "/tmp/sg.graphql",
	})).Load()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.HTTPPort)
	assert.Equal(t, "legacy-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"localhost", "https://studio.apollographql.com"}, cfg.Server.CORSAllowedOrigins)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/tmp/sg.graphql", cfg.Schema.Path)
}

func TestLoader_LegacyEnvGatewayAliases(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(envMap(map[string]string{
		"GATEWAY_PORT":            "4100",
		"GATEWAY_ALLOWED_ORIGINS": "localhost 127.0.0.1",
		"GLOBAL_DEBUG":            "1",
	})).Load()
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, cfg.Server.CORSAllowedOrigins)
	assert.True(t, cfg.Debug)

	t.Run("gateway names win over plain names", func(t *testing.T) {
		cfg, err := NewLoader().WithEnvLookup(envMap(map[string]string{
			"GATEWAY_PORT":            "4100",
			"PORT":                    "4200",
			"GATEWAY_ALLOWED_ORIGINS": "https://a.example.com",
			"ALLOWED_ORIGINS":         "https://b.example.com",
			"GLOBAL_DEBUG":            "0",
			"DEBUG":                   "1",
		})).Load()
		require.NoError(t, err)
		assert.Equal(t, 4100, cfg.Server.HTTPPort)
		assert.Equal(t, []string{"https://a.example.com"}, cfg.Server.CORSAllowedOrigins)
		assert.False(t, cfg.Debug)
	})

	t.Run("bad port names the variable", func(t *testing.T) {
		_, err := NewLoader().WithEnvLookup(envMap(map[string]string{"GATEWAY_PORT": "eighty"})).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GATEWAY_PORT")
	})
}

func TestLoader_LegacyEnvWinsOverPrefixed(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(envMap(map[string]string{
		"FEDGATEWAY_SERVER_HTTP_PORT": "5000",
		"PORT":                        "6000",
	})).Load()
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Server.HTTPPort)
}

func TestLoader_LegacyEnvDisabled(t *testing.T) {
	cfg, err := NewLoader().WithLegacyEnv(false).WithEnvLookup(envMap(map[string]string{
		"PORT": "6000",
	})).Load()
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Server.HTTPPort)
}

func TestLoader_LegacyEnvBadPort(t *testing.T) {
	_, err := NewLoader().WithEnvLookup(envMap(map[string]string{"PORT": "eighty"})).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 7000\n"), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		WithEnvLookup(envMap(map[string]string{"FEDGATEWAY_SERVER_HTTP_PORT": "9999"})).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		WithEnvLookup(envMap(map[string]string{"MYAPP_SERVER_HTTP_PORT": "6666"})).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	_, err := NewLoader().
		WithEnvLookup(envMap(map[string]string{"FEDGATEWAY_SCHEMA_DEBOUNCE": "soon"})).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEDGATEWAY_SCHEMA_DEBOUNCE")
}

func TestLoader_WithValidator(t *testing.T) {
	_, err := NewLoader().
		WithEnvLookup(envMap(nil)).
		WithValidator(func(c *Config) error { return c.Validate() }).
		WithValidator(func(c *Config) error {
			if c.Auth.JWTSecret == "" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/nonexistent/path/config.yaml").
		WithEnvLookup(envMap(nil)).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: [not an int\n"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).WithEnvLookup(envMap(nil)).Load()
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
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.HTTPPort = 0 }, wantErr: "invalid HTTP port"},
		{name: "port clash", mutate: func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, wantErr: "metrics port must differ"},
		{name: "metrics disabled", mutate: func(c *Config) { c.Server.MetricsPort = 0 }},
		{name: "relative path", mutate: func(c *Config) { c.Server.GraphQLPath = "graphql" }, wantErr: "graphql_path"},
		{name: "missing schema path", mutate: func(c *Config) { c.Schema.Path = " " }, wantErr: "schema.path"},
		{name: "zero history", mutate: func(c *Config) { c.Schema.HistorySize = 0 }, wantErr: "history_size"},
		{name: "zero upstream timeout", mutate: func(c *Config) { c.Upstream.Timeout = 0 }, wantErr: "upstream.timeout"},
		{name: "bad service url", mutate: func(c *Config) {
			c.Services = []ServiceOverride{{Name: "accounts", URL: "ftp://x"}}
		}, wantErr: "invalid url"},
		{name: "duplicate service", mutate: func(c *Config) {
			c.Services = []ServiceOverride{{Name: "a", URL: "http://a"}, {Name: "a", URL: "http://b"}}
		}, wantErr: "duplicate service override"},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "unsupported database driver"},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad sample rate", mutate: func(c *Config) { c.Telemetry.SampleRate = 2 }, wantErr: "sample_rate"},
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
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres",
			cfg:  DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"},
			want: "host=db port=5432 user=u password=p dbname=n sslmode=disable",
		},
		{
			name: "mysql",
			cfg:  DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "n"},
			want: "u:p@tcp(db:3306)/n?parseTime=true",
		},
		{name: "sqlite", cfg: DatabaseConfig{Driver: "sqlite", Name: "/tmp/rev.db"}, want: "/tmp/rev.db"},
		{name: "disabled", cfg: DatabaseConfig{}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestParseFlag(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", " on "} {
		assert.True(t, ParseFlag(v), v)
	}
	for _, v := range []string{"0", "false", "no", "", "maybe"} {
		assert.False(t, ParseFlag(v), v)
	}
}

func TestMustLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(":::"), 0644))
	assert.Panics(t, func() { MustLoad(configPath) })
}
