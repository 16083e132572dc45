// Package telemetry 封装 fedgateway 的 OpenTelemetry 初始化：
// TracerProvider、MeterProvider、网关资源属性以及子图调用指标。
// 子图调用的 span 由 otelhttp 客户端传输层产生。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
