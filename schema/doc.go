/*
Package schema 管理网关的活动 supergraph。

# 概述

一份 supergraph 文档从磁盘读入后，经过 HealthGate 编译校验，才会被
Reconciler 安装到 Core 中。Core 持有唯一的活动快照，请求处理方每次请求
只取一次快照，并在整个请求生命周期内使用它。

# 核心类型

  - Document: 不可变的 SDL 文本及其版本号、校验和
  - FileSource / FileWatcher: 读取文件并监听变化（fsnotify + 轮询兜底）
  - HealthGate: 候选文档的编译与自定义检查
  - Core: 原子快照，读无锁
  - Reconciler: 唯一写者，串行消费变更事件，支持手动重载与版本回滚
  - RevisionStore: 安装与拒绝记录的审计存储（内存或 GORM）

# 保证

被拒绝的候选不会改变 Core.Current()；有效的替换按版本单调可见；
并发读者在切换过程中始终看到自洽的快照。
*/
package schema
