// =============================================================================
// fedgateway 主入口
// =============================================================================
// 联邦 GraphQL 网关：supergraph 热更新、子图路由、健康检查与 Prometheus 指标
//
// 使用方法:
//
//	fedgateway serve                          # 启动网关
//	fedgateway serve --config gateway.yaml    # 指定配置文件
//	fedgateway validate supergraph.graphql    # 离线校验 supergraph
//	fedgateway migrate up                     # 执行修订审计表迁移
//	fedgateway health --addr http://localhost # 健康检查
//	fedgateway version                        # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/fedgateway/config"
	"github.com/BaSui01/fedgateway/federation"
	"github.com/BaSui01/fedgateway/schema"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "serve":
		code = runServe(os.Args[2:])
	case "validate":
		code = runValidate(os.Args[2:], os.Stdout, os.Stderr)
	case "migrate":
		code = runMigrate(os.Args[2:], os.Stdout, os.Stderr)
	case "version":
		printVersion(os.Stdout)
	case "health":
		code = runHealthCheck(os.Args[2:], os.Stdout, os.Stderr)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		code = 1
	}
	os.Exit(code)
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting fedgateway",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start gateway", zap.Error(err))
		srv.Shutdown()
		return 1
	}

	err = srv.Wait(ctx)
	srv.Shutdown()
	if err != nil {
		logger.Error("gateway exited unexpectedly", zap.Error(err))
		return 1
	}
	logger.Info("fedgateway stopped")
	return 0
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

// runValidate 使用与热更新相同的 HealthGate 离线校验 supergraph 文件
func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (for service URL overrides)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: fedgateway validate [--config file] <supergraph file>")
		return 2
	}

	var compileOpts []federation.CompileOption
	if *configPath != "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		compileOpts = append(compileOpts, federation.WithServiceURLs(cfg.ServiceURLs()))
	}

	doc, err := schema.NewFileSource(fs.Arg(0)).Load()
	if err != nil {
		fmt.Fprintf(stderr, "cannot read supergraph: %v\n", err)
		return 1
	}

	gate := schema.NewHealthGate(schema.WithCompileOptions(compileOpts...))
	snap, err := gate.Check(context.Background(), doc)
	if err != nil {
		fmt.Fprintf(stderr, "supergraph rejected: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "supergraph OK (checksum %s)\n", doc.Checksum)
	for _, sg := range snap.Supergraph.Subgraphs() {
		fmt.Fprintf(stdout, "  %-20s %s\n", sg.Name, sg.URL)
	}
	return 0
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://localhost:80", "Gateway address")
	path := fs.String("path", "/ready", "Endpoint to probe")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + *path)
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "fedgateway %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `fedgateway - federated GraphQL gateway

Usage:
  fedgateway <command> [options]

Commands:
  serve      Start the gateway
  validate   Validate a supergraph file offline
  migrate    Revision audit database migrations
  version    Show version information
  health     Probe a running gateway
  help       Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  fedgateway serve --config /etc/fedgateway/gateway.yaml
  fedgateway validate /data/supergraph.graphql
  fedgateway migrate up
  fedgateway health --addr http://localhost:80`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger.With(zap.String("service", "fedgateway"))
}
