/*
包 database 打开 schema 修订审计使用的数据库连接。

# 概述

Open 根据 config.DatabaseConfig 的驱动名选择 GORM 方言（postgres、
mysql，或纯 Go 的 glebarez/sqlite），并由 PoolManager 统一管理连接池
参数、后台探活与关闭。驱动为空时返回 ErrNoDriver，调用方据此关闭审计。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、SQL()、Ping()、
    Stats()、Close()。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接生命周期与探活间隔。
*/
package database
