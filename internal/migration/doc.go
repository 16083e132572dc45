/*
包 migration 管理 schema_revisions 审计表的版本化迁移，基于
golang-migrate，内嵌 PostgreSQL、MySQL 与 SQLite 三种方言的 SQL。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close。
  - Config：方言、连接 URL、迁移版本表（默认 gateway_migrations）与锁超时。
  - CLI：fedgateway migrate 子命令的输出层，Run 按动作名分发。

# 启动迁移

database.auto_migrate 开启时，serve 在打开连接池之前调用
ApplyPending，使用独立连接执行迁移并在结束后关闭。

SQLite 通过 database/sql 名称 "sqlite" 打开，由进程内导入的
纯 Go 驱动提供注册。
*/
package migration
