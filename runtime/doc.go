// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package runtime 定义引擎与外部多智能体运行时之间的边界契约。

# 概述

引擎不拥有 agent，也不关心其内部表示。运行时只需暴露三件事：
逐条投递消息的回调（MessageSink）、可序列化/恢复状态的 agent
句柄（AgentHandle），以及注入控制消息的入口（SendControlMessage）。

# 核心接口

  - AgentHandle：ID / SerializeState / RestoreState
  - MessageSink：OnMessage，返回前运行时不得投递下一条消息
  - Runtime：AgentHandles / SendControlMessage / Run
  - Factory：为每个分支创建全新的运行时实例

参考实现见子包 groupchat。
*/
package runtime
