/*
包 metrics 提供基于 Prometheus 的网关指标采集。

# 概述

Collector 通过 promauto 把全部指标注册到调用方给定的 Registry，
按 namespace 隔离；网关在独立 Registry 上暴露 /metrics。
nil Collector 的记录方法为空操作，调用方无需判空。

# 指标

  - HTTP：请求总数、耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx
  - GraphQL：按操作类型与结果计数
  - 子图：按子图与状态码计数，按子图统计耗时
  - Schema：协调结果计数与活动版本 Gauge
  - 缓存：APQ 命中与未命中
*/
package metrics
