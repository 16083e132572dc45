package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/fedgateway/schema"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	checks  []HealthCheck
	timeout time.Duration
	mu      sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status        string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp     time.Time              `json:"timestamp"`
	SchemaVersion uint64                 `json:"schema_version,omitempty"`
	Checks        map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger,
		checks:  make([]HealthCheck, 0),
		timeout: 5 * time.Second,
	}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求（简单健康检查）
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 活跃度探针，只表示进程存活）
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 处理 /ready 请求：所有已注册检查通过才返回 200
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	allHealthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{
			Status:  "pass",
			Latency: latency.String(),
		}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false

			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}
		if sc, ok := check.(*SchemaCheck); ok {
			if snap := sc.core.Current(); snap != nil {
				status.SchemaVersion = snap.Version()
			}
		}
		status.Checks[check.Name()] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置检查实现
// =============================================================================

// SchemaCheck 要求存在活动 schema
type SchemaCheck struct {
	core *schema.Core
}

// NewSchemaCheck 创建 schema 就绪检查
func NewSchemaCheck(core *schema.Core) *SchemaCheck {
	return &SchemaCheck{core: core}
}

func (c *SchemaCheck) Name() string { return "schema" }

func (c *SchemaCheck) Check(context.Context) error {
	if !c.core.Ready() {
		return fmt.Errorf("no active supergraph schema")
	}
	return nil
}

// PingCheck 通过回调探测依赖（Redis、数据库）
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建依赖探测检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error {
	return c.ping(ctx)
}

// SubgraphCheck 探测活动 schema 中的每个子图。
// 任何 HTTP 响应都视为可达，只有传输层错误才算失败。
type SubgraphCheck struct {
	core   *schema.Core
	client *http.Client
}

// NewSubgraphCheck 创建子图可达性检查
func NewSubgraphCheck(core *schema.Core, client *http.Client) *SubgraphCheck {
	if client == nil {
		client = http.DefaultClient
	}
	return &SubgraphCheck{core: core, client: client}
}

func (c *SubgraphCheck) Name() string { return "subgraphs" }

var probeBody = []byte(`{"query":"{__typename}"}`)

func (c *SubgraphCheck) Check(ctx context.Context) error {
	snap := c.core.Current()
	if snap == nil {
		return fmt.Errorf("no active supergraph schema")
	}

	subgraphs := snap.Supergraph.Subgraphs()
	var (
		mu     sync.Mutex
		failed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, sg := range subgraphs {
		g.Go(func() error {
			if err := c.probe(gctx, sg.URL); err != nil {
				mu.Lock()
				failed = append(failed, fmt.Sprintf("%s: %v", sg.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("unreachable subgraphs: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (c *SubgraphCheck) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(probeBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.Body.Close()
}
