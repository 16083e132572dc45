/*
Package handlers 提供 fedgateway 运维与管理端点的处理器。

# 核心类型

  - HealthHandler     ：/health、/healthz 存活探针与 /ready 就绪检查
  - SchemaCheck       ：要求存在活动 supergraph
  - SubgraphCheck     ：并行探测活动 schema 中的子图是否可达
  - PingCheck         ：Redis、数据库等依赖的回调探测
  - SchemaAdminHandler：/admin/schema 查询、历史、修订、重载与回滚
  - Response / ErrorInfo：管理端点的统一 JSON 信封
  - ResponseWriter    ：捕获状态码与响应字节数，供中间件使用

GraphQL 路径本身由 gateway 包处理，错误以 GraphQL errors 形式返回；
此包中的端点统一使用 Response 信封，状态码由 types.StatusForCode 决定。
*/
package handlers
