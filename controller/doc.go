// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package controller 驱动运行时实例，并把回滚与分支操作暴露给操作者。

# 概述

每个分支由一个 Controller 持有：它拥有该分支的 history.Journal 与一个
独立的 runtime.Runtime 实例，作为 MessageSink 拦截运行时投递的每条
消息，在返回前追加日志并捕获所有 agent 的检查点。

Manager 是操作入口，没有全局"当前分支"，每个调用都显式指定分支：

  - Start / Run        — 开始对话（首次使用初始分支，之后从根分叉）
  - Pause / Resume     — 在事件边界暂停、继续
  - Revert             — 截断到某序号并恢复 agent 状态
  - Branch             — 在某序号分叉出新分支，使用新的运行时实例
  - RetryCapture       — 检查点失败后重试
  - Export* / Import*  — 日志、检查点与分支树的导入导出
  - Save / Load        — 通过 persistence.Repository 持久化整个分支宇宙

# 状态机

	Idle ──Resume──▶ Running ──Pause/结束──▶ Paused
	                    ▲                     │
	                    └──────Resume─────────┘
	Paused ──Revert/Branch──▶ Reseeding ──▶ Paused

Running 或 Reseeding 时的回滚、分支与继续都返回 INVALID_STATE。
检查点捕获失败后分支进入降级状态，只允许 Revert 或 RetryCapture；
事件被日志拒绝时同样降级，此时只能 Revert。

# 恢复语义

reseed 全有或全无：先快照每个 agent 的当前状态，恢复失败时回写快照
并返回 *types.AgentRestoreError。分支失败时新节点标记为 abandoned。

# 可观测性

每个操作都会创建 OpenTelemetry span 与指标，并在配置了
metrics.Collector 时同步写入 Prometheus。
*/
package controller
