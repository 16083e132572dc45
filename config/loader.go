// =============================================================================
// 📦 fedgateway 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("FEDGATEWAY").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 前缀环境变量 → 兼容旧部署的无前缀环境变量
// =============================================================================
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 fedgateway 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Auth 身份令牌配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Debug 开启 introspection 与 playground
	Debug bool `yaml:"debug" env:"DEBUG"`

	// Schema supergraph 文件与热更新配置
	Schema SchemaConfig `yaml:"schema" env:"SCHEMA"`

	// Upstream 子图调用配置
	Upstream UpstreamConfig `yaml:"upstream" env:"UPSTREAM"`

	// Services 覆盖 join__graph 中声明的子图地址
	Services []ServiceOverride `yaml:"services" env:"-"`

	// APQ 自动持久化查询配置
	APQ APQConfig `yaml:"apq" env:"APQ"`

	// Database 修订审计数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示关闭
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// GraphQL 端点路径
	GraphQLPath string `yaml:"graphql_path" env:"GRAPHQL_PATH"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// CORS 允许的来源（完整 origin 或裸主机名）
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 每 IP 每秒请求数，<=0 关闭限流
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 管理接口 API Key，为空时关闭管理接口
	AdminAPIKeys []string `yaml:"admin_api_keys" env:"ADMIN_API_KEYS"`
	// 启用明文 HTTP/2
	EnableH2C bool `yaml:"enable_h2c" env:"ENABLE_H2C"`
}

// AuthConfig 令牌校验配置
type AuthConfig struct {
	// HS256 密钥，为空时所有请求均为匿名
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// 携带令牌的 Cookie 名称
	CookieName string `yaml:"cookie_name" env:"COOKIE_NAME"`
	// 期望的签发者（可选）
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 期望的受众（可选）
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// SchemaConfig supergraph 配置
type SchemaConfig struct {
	// supergraph 文件路径
	Path string `yaml:"path" env:"PATH"`
	// 轮询间隔（fsnotify 的兜底）
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// 事件去抖时间
	Debounce time.Duration `yaml:"debounce" env:"DEBOUNCE"`
	// 历史快照数量
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE"`
	// 是否监听文件变化
	Watch bool `yaml:"watch" env:"WATCH"`
}

// UpstreamConfig 子图调用配置
type UpstreamConfig struct {
	// 单次子图调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大并行子调用数
	MaxParallel int `yaml:"max_parallel" env:"MAX_PARALLEL"`
	// /ready 是否探测子图
	ProbeOnReady bool `yaml:"probe_on_ready" env:"PROBE_ON_READY"`
}

// ServiceOverride 子图地址覆盖
type ServiceOverride struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// APQConfig 自动持久化查询配置
type APQConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 条目过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Redis 地址，为空时使用内存存储
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	// Redis 密码
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	// Redis 数据库编号
	RedisDB int `yaml:"redis_db" env:"REDIS_DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite；为空时关闭修订审计
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时自动执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	legacyEnv  bool
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FEDGATEWAY",
		legacyEnv:  true,
		lookupEnv:  os.LookupEnv,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithLegacyEnv 控制是否读取 PORT / JWT_SECRET 等无前缀变量
func (l *Loader) WithLegacyEnv(enabled bool) *Loader {
	l.legacyEnv = enabled
	return l
}

// WithEnvLookup 替换环境变量读取函数（测试用）
func (l *Loader) WithEnvLookup(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 前缀环境变量 → 无前缀环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if l.legacyEnv {
		if err := l.loadLegacyEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to load legacy env: %w", err)
		}
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// loadLegacyEnv 兼容原部署使用的变量名；同一项同时设置时 GATEWAY_* / GLOBAL_* 优先
func (l *Loader) loadLegacyEnv(cfg *Config) error {
	if name, v, ok := l.firstEnv("GATEWAY_PORT", "PORT"); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		cfg.Server.HTTPPort = port
	}
	if _, v, ok := l.firstEnv("JWT_SECRET"); ok {
		cfg.Auth.JWTSecret = v
	}
	if _, v, ok := l.firstEnv("GATEWAY_ALLOWED_ORIGINS", "ALLOWED_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		cfg.Server.CORSAllowedOrigins = splitList(v)
	}
	if _, v, ok := l.firstEnv("GLOBAL_DEBUG", "DEBUG"); ok {
		cfg.Debug = ParseFlag(v)
	}
	if _, v, ok := l.firstEnv("SUPERGRAPH_PATH"); ok {
		cfg.Schema.Path = v
	}
	return nil
}

// firstEnv 返回第一个非空变量
func (l *Loader) firstEnv(names ...string) (string, string, bool) {
	for _, name := range names {
		if v, ok := l.lookupEnv(name); ok && v != "" {
			return name, v, true
		}
	}
	return "", "", false
}

// ParseFlag 解析宽松布尔值：1 / true / yes / on
func ParseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "y", "t":
		return true
	default:
		return false
	}
}

// splitList 按逗号或空白切分
func splitList(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		field.SetBool(ParseFlag(value))

	case reflect.Slice:
		// 逗号或空白分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(splitList(value)))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}
	if !strings.HasPrefix(c.Server.GraphQLPath, "/") {
		errs = append(errs, "graphql_path must start with /")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		errs = append(errs, "rate_limit_burst must be positive when rate limiting is enabled")
	}

	if strings.TrimSpace(c.Auth.CookieName) == "" {
		errs = append(errs, "auth.cookie_name is required")
	}

	if strings.TrimSpace(c.Schema.Path) == "" {
		errs = append(errs, "schema.path is required")
	}
	if c.Schema.PollInterval <= 0 {
		errs = append(errs, "schema.poll_interval must be positive")
	}
	if c.Schema.Debounce < 0 {
		errs = append(errs, "schema.debounce must not be negative")
	}
	if c.Schema.HistorySize <= 0 {
		errs = append(errs, "schema.history_size must be positive")
	}

	if c.Upstream.Timeout <= 0 {
		errs = append(errs, "upstream.timeout must be positive")
	}

	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.Name == "" {
			errs = append(errs, "services entry without name")
			continue
		}
		if seen[svc.Name] {
			errs = append(errs, fmt.Sprintf("duplicate service override %q", svc.Name))
		}
		seen[svc.Name] = true
		if u, err := url.Parse(svc.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("service %q has invalid url %q", svc.Name, svc.URL))
		}
	}

	if c.APQ.Enabled && c.APQ.TTL <= 0 {
		errs = append(errs, "apq.ttl must be positive")
	}

	switch c.Database.Driver {
	case "", "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ServiceURLs 返回子图地址覆盖表
func (c *Config) ServiceURLs() map[string]string {
	out := make(map[string]string, len(c.Services))
	for _, svc := range c.Services {
		out[svc.Name] = svc.URL
	}
	return out
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
