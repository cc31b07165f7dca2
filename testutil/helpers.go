// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数：上下文、异步等待、事件构造
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	evt := testutil.AgentEvent("alice", "hello")
//
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BaSui01/agentrewind/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// ⏳ 异步断言
// =============================================================================

// AssertEventuallyTrue 在超时前轮询条件
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Fatalf("condition not met within %v", timeout)
	}
}

// WaitFor 等待条件满足，返回是否成功
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

// =============================================================================
// 📨 事件构造
// =============================================================================

// StartEvent 构造 conversation-start 事件
func StartEvent(task string) types.Event {
	return types.Event{Sender: "user", Kind: types.KindConversationStart, Payload: types.NewStartPayload(task)}
}

// AgentEvent 构造 agent-message 事件
func AgentEvent(sender, content string) types.Event {
	return types.Event{
		Sender:  sender,
		Kind:    types.KindAgentMessage,
		Payload: types.NewMessagePayload(types.TextMessage{Source: sender, Content: content}),
	}
}

// TerminationEvent 构造 termination 事件
func TerminationEvent(reason string) types.Event {
	return types.Event{Sender: "manager", Kind: types.KindTermination, Payload: types.NewTerminationPayload(reason, "")}
}

// MessageContent 读取 agent-message 事件的文本
func MessageContent(t *testing.T, evt types.Event) string {
	t.Helper()
	var msg types.GroupChatMessage
	if err := json.Unmarshal(evt.Payload, &msg); err != nil {
		t.Fatalf("decode message payload: %v", err)
	}
	return msg.Message.Content
}

// MustJSON 序列化任意值，失败时 panic
func MustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
