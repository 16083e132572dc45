// Package config 提供 fedgateway 的配置管理功能。
//
// 配置来源依次为默认值、YAML 文件、FEDGATEWAY_ 前缀环境变量，
// 以及原部署沿用的 PORT、JWT_SECRET、ALLOWED_ORIGINS、DEBUG、
// SUPERGRAPH_PATH 变量。加载结果在启动前统一 Validate。
package config
