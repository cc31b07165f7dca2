// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 AgentRewind 测试的共享工具和辅助函数。

# 概述

testutil 包为 history、controller、api 等包的单元测试提供统一的
辅助能力，避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup
  - 异步断言: AssertEventuallyTrue / WaitFor，超时轮询等待条件满足
  - 事件构造: StartEvent / AgentEvent / TerminationEvent / MessageContent

# 子包

  - testutil/mocks: MockAgentHandle（支持序列化/恢复错误注入）、
    MockRuntime（脚本化轮流发言的运行时）与 MockFactory

# 使用示例

	ctx := testutil.TestContext(t)
	rt := mocks.NewMockRuntime([]string{"hi", "hello"}, "alice", "bob")
	handles := rt.AgentHandles()
*/
package testutil
