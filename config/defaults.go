// =============================================================================
// 📦 fedgateway 默认配置
// =============================================================================
// 提供所有配置项的合理默认值，端口与路径沿用原部署
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Auth:      DefaultAuthConfig(),
		Debug:     false,
		Schema:    DefaultSchemaConfig(),
		Upstream:  DefaultUpstreamConfig(),
		APQ:       DefaultAPQConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           80,
		MetricsPort:        9091,
		GraphQLPath:        "/",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		CORSAllowedOrigins: []string{"localhost", "127.0.0.1"},
		RateLimitRPS:       0,
		RateLimitBurst:     200,
		EnableH2C:          false,
	}
}

// DefaultAuthConfig 返回默认令牌配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		CookieName: "Authorization",
	}
}

// DefaultSchemaConfig 返回默认 supergraph 配置
func DefaultSchemaConfig() SchemaConfig {
	return SchemaConfig{
		Path:         "/data/supergraph.graphql",
		PollInterval: time.Second,
		Debounce:     250 * time.Millisecond,
		HistorySize:  10,
		Watch:        true,
	}
}

// DefaultUpstreamConfig 返回默认子图调用配置
func DefaultUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		Timeout:      30 * time.Second,
		MaxParallel:  16,
		ProbeOnReady: false,
	}
}

// DefaultAPQConfig 返回默认 APQ 配置
func DefaultAPQConfig() APQConfig {
	return APQConfig{
		Enabled:   true,
		TTL:       24 * time.Hour,
		KeyPrefix: "fedgateway:apq:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "",
		Host:            "localhost",
		Port:            5432,
		User:            "fedgateway",
		Password:        "",
		Name:            "fedgateway",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "fedgateway",
		SampleRate:   0.1,
	}
}
