/*
Package main 提供 fedgateway 网关程序入口。

# 概述

cmd/fedgateway 是联邦 GraphQL 网关的可执行入口，提供 serve、validate、
migrate、health 与 version 子命令。启动时加载 YAML 配置与环境变量，
引导 supergraph，随后由协调器在后台监听文件变化并原子切换活动 schema。

# 核心类型

  - Server     ：持有协调器、GraphQL handler、metrics 端口与可选的数据库/Redis
  - Middleware ：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、Metrics、CORS、RateLimiter（基于 IP）
  - 管理接口：/admin/schema/* 由 APIKeyAuth（X-API-Key）保护，未配置 key 时不注册
  - 修订审计：配置数据库时启动前自动迁移，失败退回内存存储
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus，独立 Registry）
  - 优雅关闭：信号 → 关闭 HTTP → 停止协调器 → 关闭 Metrics → 释放遥测、Redis、数据库
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
