package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/fedgateway/config"
	"github.com/BaSui01/fedgateway/testutil"
	"github.com/BaSui01/fedgateway/testutil/fixtures"
	"github.com/BaSui01/fedgateway/testutil/mocks"
	"github.com/BaSui01/fedgateway/types"
)

type serverFixture struct {
	cfg      *config.Config
	server   *Server
	http     *httptest.Server
	accounts *mocks.MockSubgraph
	products *mocks.MockSubgraph
}

func testConfig(t *testing.T, schemaPath string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.GraphQLPath = "/graphql"
	cfg.Server.AdminAPIKeys = []string{"secret"}
	cfg.Schema.Path = schemaPath
	cfg.Schema.Watch = false
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "revisions.db")
	cfg.Database.MaxOpenConns = 1
	cfg.Database.MaxIdleConns = 1
	cfg.Telemetry.Enabled = false
	return cfg
}

func newServerFixture(t *testing.T, mutate ...func(*config.Config)) *serverFixture {
	t.Helper()
	f := &serverFixture{
		accounts: mocks.NewMockSubgraph(t, "accounts"),
		products: mocks.NewMockSubgraph(t, "products"),
	}
	path := testutil.WriteFile(t, "supergraph.graphql", fixtures.Supergraph(f.accounts.URL(), f.products.URL()))
	f.cfg = testConfig(t, path)
	for _, m := range mutate {
		m(f.cfg)
	}

	f.server = NewServer(f.cfg, zap.NewNop())
	require.NoError(t, f.server.init(context.Background()))
	t.Cleanup(f.server.Shutdown)

	f.http = httptest.NewServer(f.server.handler)
	t.Cleanup(f.http.Close)
	return f
}

func (f *serverFixture) do(t *testing.T, method, path, apiKey string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (f *serverFixture) query(t *testing.T, q string) (*http.Response, types.GraphQLResponse) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": q})
	require.NoError(t, err)
	resp, raw := f.do(t, http.MethodPost, "/graphql", "", body)
	var out types.GraphQLResponse
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp, out
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func gaugeValue(t *testing.T, s *Server, name string) float64 {
	t.Helper()
	families, err := s.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return -1
}

// =============================================================================
// 端到端
// =============================================================================

func TestServer_ServesGraphQL(t *testing.T) {
	f := newServerFixture(t)
	f.accounts.WithData("me", map[string]any{"id": "1", "name": "Ada"})

	resp, out := f.query(t, `{ me { id name } }`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, out.Errors)
	assert.JSONEq(t, `{"me":{"id":"1","name":"Ada"}}`, string(out.Data))

	// 中间件链生效
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, 1, f.accounts.CallCount())
	assert.Zero(t, f.products.CallCount())

	assert.Equal(t, 1.0, counterValue(t, f.server.registry, "fedgateway_http_requests_total",
		map[string]string{"method": "POST", "path": "/graphql"}))
}

func TestServer_HealthEndpoints(t *testing.T) {
	f := newServerFixture(t)

	for _, p := range []string{"/health", "/healthz", "/ready", "/readyz", "/version"} {
		resp, raw := f.do(t, http.MethodGet, p, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "%s: %s", p, raw)
	}
}

func TestServer_SchemaVersionGauge(t *testing.T) {
	f := newServerFixture(t)
	testutil.AssertEventuallyTrue(t, func() bool {
		return gaugeValue(t, f.server, "fedgateway_schema_active_version") == 1
	}, 2*time.Second)
}

func TestServer_AdminRequiresKey(t *testing.T) {
	f := newServerFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/admin/schema", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/admin/schema", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, raw := f.do(t, http.MethodGet, "/admin/schema", "secret", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"version":1`)
}

func TestServer_AdminDisabledWithoutKeys(t *testing.T) {
	f := newServerFixture(t, func(c *config.Config) { c.Server.AdminAPIKeys = nil })

	// 管理路由未注册，请求落到 GraphQL 以外的 404
	resp, _ := f.do(t, http.MethodGet, "/admin/schema", "secret", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ReloadAndRevisionAudit(t *testing.T) {
	f := newServerFixture(t)

	require.NoError(t, os.WriteFile(f.cfg.Schema.Path,
		[]byte(fixtures.SupergraphWithField(f.accounts.URL(), f.products.URL(), "motd")), 0o644))

	resp, raw := f.do(t, http.MethodPost, "/admin/schema/reload", "secret", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Contains(t, string(raw), `"version":2`)
	assert.Equal(t, uint64(2), f.server.core.Current().Version())

	// 新字段立即可查询
	f.accounts.WithData("motd", "hello")
	_, out := f.query(t, `{ motd }`)
	assert.Empty(t, out.Errors)
	assert.JSONEq(t, `{"motd":"hello"}`, string(out.Data))

	// 非法文档被拒绝，活动版本不变
	require.NoError(t, os.WriteFile(f.cfg.Schema.Path, []byte(fixtures.NotGraphQL), 0o644))
	resp, _ = f.do(t, http.MethodPost, "/admin/schema/reload", "secret", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, uint64(2), f.server.core.Current().Version())

	// 审计记录写入 sqlite
	resp, raw = f.do(t, http.MethodGet, "/admin/schema/revisions", "secret", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var env struct {
		Data []struct {
			Version uint64 `json:"version"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Len(t, env.Data, 3)

	statuses := map[string]int{}
	for _, rev := range env.Data {
		statuses[rev.Status]++
	}
	assert.Equal(t, 2, statuses["installed"])
	assert.Equal(t, 1, statuses["rejected"])

	require.NotNil(t, f.server.pool)
	var count int64
	require.NoError(t, f.server.pool.DB().Table("schema_revisions").Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestServer_Rollback(t *testing.T) {
	f := newServerFixture(t)

	require.NoError(t, os.WriteFile(f.cfg.Schema.Path,
		[]byte(fixtures.SupergraphWithField(f.accounts.URL(), f.products.URL(), "motd")), 0o644))
	resp, _ := f.do(t, http.MethodPost, "/admin/schema/reload", "secret", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := f.do(t, http.MethodPost, "/admin/schema/rollback?version=1", "secret", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Equal(t, checksumOfVersion(t, f, 1), f.server.core.Current().Document.Checksum)

	resp, _ = f.do(t, http.MethodPost, "/admin/schema/rollback?version=99", "secret", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func checksumOfVersion(t *testing.T, f *serverFixture, version uint64) string {
	t.Helper()
	for _, s := range f.server.reconciler.History() {
		if s.Version() == version {
			return s.Document.Checksum
		}
	}
	t.Fatalf("version %d not in history", version)
	return ""
}

// =============================================================================
// 存储与 APQ 的退化路径
// =============================================================================

func TestServer_MemoryStoreWithoutDatabase(t *testing.T) {
	f := newServerFixture(t, func(c *config.Config) { c.Database.Driver = "" })
	assert.Nil(t, f.server.pool)

	resp, raw := f.do(t, http.MethodGet, "/admin/schema/revisions", "secret", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"status":"installed"`)
}

func TestServer_PersistedQueriesOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newServerFixture(t, func(c *config.Config) {
		c.APQ.Enabled = true
		c.APQ.RedisAddr = mr.Addr()
	})
	require.NotNil(t, f.server.cache)
	f.accounts.WithData("me", map[string]any{"id": "1"})

	// 仅发送 hash：未命中
	const q = `{ me { id } }`
	hash := "8b6b8e6ba2d0b7a5bcd1d7bb0a6cd0f4a15c2f5ae3f6d9a40d3f8e7b0f0d1a2c"
	ext := map[string]any{"persistedQuery": map[string]any{"version": 1, "sha256Hash": hash}}
	body, _ := json.Marshal(map[string]any{"extensions": ext})
	_, raw := f.do(t, http.MethodPost, "/graphql", "", body)
	assert.Contains(t, string(raw), "PersistedQueryNotFound")

	// 注册后 Redis 中出现条目
	body, _ = json.Marshal(map[string]any{"query": q, "extensions": map[string]any{
		"persistedQuery": map[string]any{"version": 1, "sha256Hash": sha256Hex(q)},
	}})
	resp, _ := f.do(t, http.MethodPost, "/graphql", "", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, mr.Keys())
}

func TestServer_PersistedQueriesFallBackWhenRedisDown(t *testing.T) {
	f := newServerFixture(t, func(c *config.Config) {
		c.APQ.Enabled = true
		c.APQ.RedisAddr = "127.0.0.1:1"
	})
	assert.Nil(t, f.server.cache)

	resp, _ := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// 生命周期
// =============================================================================

func TestServer_StartAndShutdown(t *testing.T) {
	accounts := mocks.NewMockSubgraph(t, "accounts")
	products := mocks.NewMockSubgraph(t, "products")
	path := testutil.WriteFile(t, "supergraph.graphql", fixtures.Supergraph(accounts.URL(), products.URL()))
	cfg := testConfig(t, path)
	cfg.Database.Driver = ""

	s := NewServer(cfg, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))

	resp, err := http.Get("http://" + s.httpManager.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Wait(ctx))

	s.Shutdown()
	s.Shutdown()
	assert.False(t, s.httpManager.IsRunning())
}

func TestServer_StartFailsWithoutSupergraph(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing.graphql"))
	cfg.Database.Driver = ""

	s := NewServer(cfg, zap.NewNop())
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load supergraph")
	s.Shutdown()
}

func TestServer_StartRejectsInvalidSupergraph(t *testing.T) {
	cfg := testConfig(t, testutil.WriteFile(t, "supergraph.graphql", fixtures.NoGraphEnum))
	cfg.Database.Driver = ""

	s := NewServer(cfg, zap.NewNop())
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load supergraph")
	s.Shutdown()
}
