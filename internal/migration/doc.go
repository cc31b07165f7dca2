// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package migration 管理 SQL 快照存储的表结构，支持 PostgreSQL、MySQL
与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的迁移文件通过 embed 内嵌在 migrations/<dialect>/ 下，创建
history_trees 与 branch_snapshots 两张表。persistence.SQLRepository
依赖这里的表结构；AutoMigrate 只用于测试。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close
  - Config：数据库类型、连接 URL、迁移表名、锁超时与 zap 日志
  - CLI：面向终端的格式化输出，Execute 按命令名分发，
    供 agentrewind migrate 子命令使用

# 工厂

NewMigratorFromDatabaseConfig 复用快照存储的 database.Config，
DatabaseURL 负责按方言调整连接串（MySQL 多语句、SQLite file: URL）。
*/
package migration
