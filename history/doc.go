// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package history 实现检查点、截断与分支管理引擎的核心数据结构。

# 概述

history 记录多 agent 对话的每一条消息以及消息之后每个 agent 的
内部状态，并支持回滚到任意历史点或从历史点分叉出独立分支。
本包不依赖任何具体运行时，只通过 runtime.AgentHandle 读写不透明
的状态 blob。

# 核心类型

  - EventLog        — 单分支只追加事件日志，序号从 1 连续递增
  - CheckpointStore — 并发捕获所有 agent 状态，全部成功才记录
  - Index           — (分支, 序号) 到 CheckpointSet 的映射，支持 Revert / Fork
  - Journal         — 单分支日志与检查点的组合，是唯一的截断入口
  - Tree            — 以 BranchID 为下标的分支树 arena
  - Transcript      — 将事件压缩为可读对话

# 并发模型

Index 为每个分支持有一把 sync.RWMutex：Revert 取写锁，Fork 取源分支
读锁，同一分支上竞争的回滚与分叉因此有唯一的全序。日志截断与
分叉时的事件复制都在同一把锁内完成。

# 导入导出

Journal.ExportLog / ExportCheckpoints 与 DecodeLog / DecodeCheckpoints /
ImportJournal 组成往返编码；ExportTree / DecodeTree 负责分支树。
CheckpointSet 中的 blob 以 base64 编码写入 JSON。
*/
package history
