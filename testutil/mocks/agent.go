// =============================================================================
// 🤖 MockAgentHandle - agent 句柄模拟实现
// =============================================================================
// 用于测试的 agent 句柄，状态为 JSON，支持序列化/恢复错误注入
//
// 使用方法:
//
//	agent := mocks.NewMockAgentHandle("alice")
//	agent.Observe("hello")
//	agent.WithSerializeError(errors.New("boom"))
//
// =============================================================================
package mocks

import (
	"context"
	"encoding/json"
	"sync"
)

// AgentState 是 MockAgentHandle 序列化出的状态
type AgentState struct {
	ID   string   `json:"id"`
	Seen []string `json:"seen"`
}

// MockAgentHandle 是 runtime.AgentHandle 的模拟实现
type MockAgentHandle struct {
	mu   sync.Mutex
	id   string
	seen []string

	// 错误注入
	serializeErr error
	restoreErr   error
	restoreFails int

	// 调用记录
	serializeCalls int
	restoreCalls   int
}

// NewMockAgentHandle 创建新的 MockAgentHandle
func NewMockAgentHandle(id string) *MockAgentHandle {
	return &MockAgentHandle{id: id, seen: []string{}}
}

// WithSerializeError 让后续 SerializeState 返回 err（nil 表示恢复正常）
func (m *MockAgentHandle) WithSerializeError(err error) *MockAgentHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serializeErr = err
	return m
}

// WithRestoreError 让接下来 times 次 RestoreState 返回 err；times<=0 表示一直失败
func (m *MockAgentHandle) WithRestoreError(err error, times int) *MockAgentHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restoreErr = err
	m.restoreFails = times
	return m
}

// ID 实现 runtime.AgentHandle
func (m *MockAgentHandle) ID() string { return m.id }

// SerializeState 实现 runtime.AgentHandle
func (m *MockAgentHandle) SerializeState(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serializeCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.serializeErr != nil {
		return nil, m.serializeErr
	}
	return json.Marshal(AgentState{ID: m.id, Seen: append([]string{}, m.seen...)})
}

// RestoreState 实现 runtime.AgentHandle
func (m *MockAgentHandle) RestoreState(ctx context.Context, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restoreCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.restoreErr != nil {
		if m.restoreFails > 0 {
			m.restoreFails--
			if m.restoreFails == 0 {
				defer func() { m.restoreErr = nil }()
			}
		}
		return m.restoreErr
	}
	var st AgentState
	if err := json.Unmarshal(blob, &st); err != nil {
		return err
	}
	m.seen = append([]string{}, st.Seen...)
	return nil
}

// Observe 记录一条消息，改变 agent 状态
func (m *MockAgentHandle) Observe(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, content)
}

// Seen 返回已观察到的消息
func (m *MockAgentHandle) Seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.seen...)
}

// SerializeCalls 返回 SerializeState 调用次数
func (m *MockAgentHandle) SerializeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serializeCalls
}

// RestoreCalls 返回 RestoreState 调用次数
func (m *MockAgentHandle) RestoreCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restoreCalls
}
