/*
包 cache 提供基于 Redis 的键值缓存，网关用它保存自动持久化查询（APQ）。

# 核心类型

  - Manager：持有 go-redis 客户端，所有键自动加上 KeyPrefix，
    提供 Get/Set/Touch/Delete/Ping/Close；可选 TLS 与后台健康检查。
  - Config：地址、密码、库编号、键前缀、默认 TTL 与连接池参数。

未命中返回 ErrCacheMiss，关闭后的调用返回 ErrClosed。
*/
package cache
