// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package groupchat 提供一个进程内的轮流发言群聊运行时，实现
runtime.Runtime，用于端到端驱动检查点引擎与演示。

# 概述

Team 由一个管理者 agent 和若干参与者 agent 组成。管理者保存轮次
状态（下一个发言者、消息计数、任务、是否结束），参与者保存各自
看到的消息与发言次数，全部以 JSON blob 序列化。

# 终止条件

  - MaxMessages：消息数（含任务消息）达到上限
  - TerminationText：回复中出现指定文本

终止条件满足后，下一步会投递一个 termination 事件。

# 团队标识

所有 agent id 形如 name/team_id。NewFactory 构建的实例共享同一个
team_id，因此从检查点恢复到新实例时 blob 能对应到同名 agent。
*/
package groupchat
