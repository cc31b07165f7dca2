// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package database 提供基于 GORM 的数据库连接与连接池管理。

# 概述

Open 根据驱动名选择方言（postgres、mysql、纯 Go 的 sqlite 与 cgo 的
sqlite3），打开数据库后交给 PoolManager 统一管理连接生命周期、
健康检查与事务重试。SQL 快照存储通过它访问数据库。

# 核心类型

  - Config：驱动、DSN 或主机参数，以及连接池配置
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB/Ping/Close
  - PoolStats：连接池运行指标，健康检查后推送给 StatsObserver
  - TransactionFunc：事务回调函数类型

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 对死锁、序列化失败、
SQLite 锁冲突等可重试错误按指数退避重试。
*/
package database
