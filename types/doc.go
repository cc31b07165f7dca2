// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentRewind 引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 history、controller、
runtime、persistence 与 api 等上层模块提供统一的类型契约。

# 核心类型

  - Sequence / BranchID — 日志位置与分支标识
  - Event / EventKind   — 不可变的消息事件及其四种类别
  - GroupChatStart 等   — 与事件类别一一对应的载荷结构
  - CheckpointSet       — agent id 到不透明状态 blob 的只读映射
  - Error / ErrorCode   — 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - PartialCheckpointError / AgentRestoreError — 捕获与恢复失败的具体错误

# 主要能力

  - 事件校验：Event.Validate 检查类别与载荷 type 是否匹配
  - 错误工具链：WrapError / AsError / IsErrorCode / GetErrorCode
*/
package types
