/*
Package gateway 实现 fedgateway 的 GraphQL 请求处理链路。

# 概述

每个请求经过以下步骤：

 1. ContextBuilder 从 Cookie（回退到 Authorization 头）中取出令牌，
    用 HS256 校验后构造只读的 RequestContext；校验失败按匿名处理
 2. Handler 从 schema.Core 取一次快照，解析与校验操作
 3. federation 规划器生成子图步骤，执行器并行（查询）或顺序（变更）调度
 4. 每个子图对应一个 DataSource：把身份写入 user / session / cookies 头，
    并把子图响应头合并回客户端响应

# 核心类型

  - RequestContext / ResponseHeaders: 请求级身份与待回写响应头
  - ContextBuilder: 令牌提取与校验
  - DataSource: 子图调用代理
  - Handler: GraphQL HTTP 端点（POST/GET、APQ、introspection 开关、playground）
  - QueryStore: APQ 存储（内存或 Redis）
*/
package gateway
