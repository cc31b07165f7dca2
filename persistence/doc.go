// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package persistence 提供分支宇宙的快照仓库。

# 概述

Repository 保存一份分支树文档以及每个分支的记录（导出的日志与
检查点 JSON）。controller.Manager.Save / Load 通过它持久化与重建
整个分支宇宙。

# 后端

  - memory — 进程内 map，用于测试与 demo
  - file   — 每个分支一个 JSON 文件，临时文件加 rename 原子写入
  - redis  — 经 internal/cache 写入带前缀的键，分支 id 记录在集合中
  - sql    — GORM + internal/database，表结构由 internal/migration 维护
  - mongo  — mongo-driver v2，树与分支各一个集合

NewRepository 按 Config.Type 选择后端；传入 metrics.Collector 时
所有调用都会记录耗时与结果。

# 错误语义

缺失的树或分支返回 SNAPSHOT_NOT_FOUND；后端不可达返回可重试的
STORE_UNAVAILABLE。
*/
package persistence
