package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/fedgateway/api/handlers"
	"github.com/BaSui01/fedgateway/config"
	"github.com/BaSui01/fedgateway/federation"
	"github.com/BaSui01/fedgateway/gateway"
	"github.com/BaSui01/fedgateway/internal/cache"
	"github.com/BaSui01/fedgateway/internal/database"
	"github.com/BaSui01/fedgateway/internal/metrics"
	"github.com/BaSui01/fedgateway/internal/migration"
	"github.com/BaSui01/fedgateway/internal/server"
	"github.com/BaSui01/fedgateway/internal/telemetry"
	"github.com/BaSui01/fedgateway/internal/tlsutil"
	"github.com/BaSui01/fedgateway/schema"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 持有网关的全部运行时组件。没有全局单例：活动 schema 由
// s.core 持有并显式传给 GraphQL handler。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers

	pool  *database.PoolManager
	cache *cache.Manager

	core       *schema.Core
	reconciler *schema.Reconciler

	handler        http.Handler
	httpManager    *server.Manager
	metricsManager *server.Manager

	limiterCancel context.CancelFunc
	shutdownOnce  sync.Once
}

// NewServer 创建服务器实例，组件在 Start 中初始化
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化组件并开始监听（非阻塞）
func (s *Server) Start(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}
	if err := s.listen(); err != nil {
		return fmt.Errorf("start listeners: %w", err)
	}

	s.logger.Info("all servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("graphql_path", s.cfg.Server.GraphQLPath),
		zap.Uint64("schema_version", s.core.Current().Version()),
	)
	return nil
}

// init 按依赖顺序构建组件；supergraph 无法加载时返回错误
func (s *Server) init(ctx context.Context) error {
	// 1. 遥测
	providers, err := telemetry.Init(s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = providers

	// 2. 指标（独立 Registry，在 metrics 端口暴露）
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollectorWithRegistry("fedgateway", s.registry, s.logger)

	// 3. 修订审计存储
	store := s.initRevisionStore(ctx)

	// 4. supergraph 协调器
	if err := s.initSchema(ctx, store); err != nil {
		return err
	}

	// 5. HTTP 路由
	s.handler = s.routes(ctx)
	return nil
}

// initRevisionStore 优先使用数据库；未配置或不可用时退回内存存储
func (s *Server) initRevisionStore(ctx context.Context) schema.RevisionStore {
	dbCfg := s.cfg.Database
	if dbCfg.Driver == "" {
		s.logger.Info("database not configured, revision audit kept in memory")
		return schema.NewMemoryRevisionStore(0)
	}

	if dbCfg.AutoMigrate {
		if err := migration.ApplyPending(ctx, dbCfg, s.logger); err != nil {
			s.logger.Error("database migration failed, revision audit kept in memory", zap.Error(err))
			return schema.NewMemoryRevisionStore(0)
		}
	}

	pool, err := database.Open(dbCfg, s.logger)
	if err != nil {
		s.logger.Warn("database not available, revision audit kept in memory", zap.Error(err))
		return schema.NewMemoryRevisionStore(0)
	}
	s.pool = pool
	return schema.NewGormRevisionStore(pool.DB())
}

func (s *Server) initSchema(ctx context.Context, store schema.RevisionStore) error {
	sc := s.cfg.Schema

	s.core = schema.NewCore()
	gate := schema.NewHealthGate(
		schema.WithCompileOptions(federation.WithServiceURLs(s.cfg.ServiceURLs())),
		schema.WithGateLogger(s.logger),
	)

	opts := []schema.ReconcilerOption{
		schema.WithRevisionStore(store),
		schema.WithMaxHistorySize(sc.HistorySize),
		schema.WithReconcilerLogger(s.logger),
	}
	if sc.Watch {
		w, err := schema.NewFileWatcher(sc.Path,
			schema.WithPollInterval(sc.PollInterval),
			schema.WithDebounceDelay(sc.Debounce),
			schema.WithWatcherLogger(s.logger),
		)
		if err != nil {
			return fmt.Errorf("create supergraph watcher: %w", err)
		}
		opts = append(opts, schema.WithWatcher(w))
	}

	s.reconciler = schema.NewReconciler(s.core, schema.NewFileSource(sc.Path), gate, opts...)
	s.reconciler.OnInstall(func(_, next *schema.Snapshot) {
		s.collector.RecordSchemaReload("installed")
		s.collector.SetSchemaVersion(next.Version())
	})
	s.reconciler.OnReject(func(*schema.RejectedError) {
		s.collector.RecordSchemaReload("rejected")
	})

	if _, err := s.reconciler.Bootstrap(ctx); err != nil {
		return fmt.Errorf("load supergraph %s: %w", sc.Path, err)
	}
	if err := s.reconciler.Start(context.Background()); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	return nil
}

// initPersistedQueries 返回 nil 表示关闭 APQ
func (s *Server) initPersistedQueries() *gateway.PersistedQueries {
	apq := s.cfg.APQ
	if !apq.Enabled {
		return nil
	}
	if apq.RedisAddr == "" {
		return gateway.NewPersistedQueries(gateway.NewMemoryQueryStore(apq.TTL), s.collector)
	}

	cc := cache.DefaultConfig()
	cc.Addr = apq.RedisAddr
	cc.Password = apq.RedisPassword
	cc.DB = apq.RedisDB
	cc.KeyPrefix = apq.KeyPrefix
	cc.DefaultTTL = apq.TTL
	m, err := cache.NewManager(cc, s.logger)
	if err != nil {
		s.logger.Warn("redis unavailable, persisted queries kept in memory",
			zap.String("addr", apq.RedisAddr), zap.Error(err))
		return gateway.NewPersistedQueries(gateway.NewMemoryQueryStore(apq.TTL), s.collector)
	}
	s.cache = m
	return gateway.NewPersistedQueries(gateway.NewRedisQueryStore(m, apq.TTL), s.collector)
}

// =============================================================================
// 🌐 路由与中间件
// =============================================================================

func (s *Server) routes(ctx context.Context) http.Handler {
	cfg := s.cfg
	subgraphClient := tlsutil.SubgraphClient(cfg.Upstream.MaxParallel)

	if cfg.Auth.JWTSecret == "" {
		s.logger.Warn("auth.jwt_secret is empty, every request is anonymous")
	}
	builder := gateway.NewContextBuilder(cfg.Auth.JWTSecret,
		gateway.WithCookieName(cfg.Auth.CookieName),
		gateway.WithIssuer(cfg.Auth.Issuer),
		gateway.WithAudience(cfg.Auth.Audience),
		gateway.WithIdentityLogger(s.logger),
	)

	dsOpts := []gateway.DataSourceOption{
		gateway.WithHTTPClient(subgraphClient),
		gateway.WithFetchTimeout(cfg.Upstream.Timeout),
		gateway.WithMetrics(s.collector),
		gateway.WithDataSourceLogger(s.logger),
		gateway.WithOTelMetrics(s.otel.Subgraphs()),
	}

	graphql := gateway.NewHandler(s.core, cfg.Server.GraphQLPath,
		gateway.WithDebug(cfg.Debug),
		gateway.WithContextBuilder(builder),
		gateway.WithExecutor(federation.NewExecutor(
			federation.WithMaxParallel(cfg.Upstream.MaxParallel),
			federation.WithExecutorLogger(s.logger),
		)),
		gateway.WithPersistedQueries(s.initPersistedQueries()),
		gateway.WithDataSourceOptions(dsOpts...),
		gateway.WithHandlerMetrics(s.collector),
		gateway.WithHandlerLogger(s.logger),
	)

	// 健康检查
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewSchemaCheck(s.core))
	if cfg.Upstream.ProbeOnReady {
		health.RegisterCheck(handlers.NewSubgraphCheck(s.core, subgraphClient))
	}
	if s.pool != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}
	if s.cache != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealthz)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/readyz", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(Version, BuildTime, GitCommit))

	// 管理接口：未配置 API Key 时不注册
	if len(cfg.Server.AdminAPIKeys) > 0 {
		admin := handlers.NewSchemaAdminHandler(s.reconciler, s.logger)
		admin.RegisterRoutes(mux, APIKeyAuth(cfg.Server.AdminAPIKeys, s.logger))
		s.logger.Info("schema admin API registered")
	} else {
		s.logger.Info("admin_api_keys empty, schema admin API disabled")
	}

	mux.Handle(cfg.Server.GraphQLPath, graphql)

	limiterCtx, cancel := context.WithCancel(ctx)
	s.limiterCancel = cancel
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(cfg.Debug),
		RequestLogger(s.logger),
		OTelTracing(),
		Metrics(s.collector, cfg.Server.GraphQLPath),
		CORS(cfg.Server.CORSAllowedOrigins, s.logger),
		RateLimiter(limiterCtx, float64(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst, s.logger),
	)
}

// listen 启动 GraphQL 端口与 metrics 端口
func (s *Server) listen() error {
	s.httpManager = server.NewManager(s.handler,
		server.ConfigFrom("graphql", s.cfg.Server.HTTPPort, s.cfg.Server), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
		mcfg := server.ConfigFrom("metrics", s.cfg.Server.MetricsPort, s.cfg.Server)
		mcfg.EnableH2C = false
		s.metricsManager = server.NewManager(mux, mcfg, s.logger)
		if err := s.metricsManager.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Wait 阻塞直到 ctx 结束（信号）或任一监听端口异常退出
func (s *Server) Wait(ctx context.Context) error {
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("graphql server: %w", err)
	case err := <-metricsErrs:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 按逆序释放所有组件，可重复调用
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("starting graceful shutdown")
		ctx := context.Background()
		var errs []error

		// 先停止接收请求，再停止 schema 更新
		if s.httpManager != nil {
			errs = append(errs, s.httpManager.Shutdown(ctx))
		}
		if s.reconciler != nil {
			errs = append(errs, s.reconciler.Stop())
		}
		if s.metricsManager != nil {
			errs = append(errs, s.metricsManager.Shutdown(ctx))
		}
		if s.limiterCancel != nil {
			s.limiterCancel()
		}
		if s.otel != nil {
			errs = append(errs, s.otel.Shutdown(ctx))
		}
		if s.cache != nil {
			errs = append(errs, s.cache.Close())
		}
		if s.pool != nil {
			errs = append(errs, s.pool.Close())
		}

		if err := errors.Join(errs...); err != nil {
			s.logger.Error("shutdown completed with errors", zap.Error(err))
			return
		}
		s.logger.Info("graceful shutdown completed")
	})
}
