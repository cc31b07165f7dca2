// =============================================================================
// 🎬 MockRuntime - 脚本化运行时模拟实现
// =============================================================================
// 按脚本轮流让 agent 发言的运行时，脚本位置由 agent 状态推导，
// 因此回滚 agent 状态后运行会从对应位置继续
//
// 使用方法:
//
//	rt := mocks.NewMockRuntime([]string{"a", "b"}, "alice", "bob")
//	err := rt.Run(ctx, sink)
//
// =============================================================================
package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/BaSui01/agentrewind/runtime"
	"github.com/BaSui01/agentrewind/types"
)

const taskPrefix = "task:"

// ControlCall 记录一次 SendControlMessage 调用
type ControlCall struct {
	Payload json.RawMessage
	Target  string
}

// MockRuntime 是 runtime.Runtime 的模拟实现
type MockRuntime struct {
	mu       sync.Mutex
	agents   []*MockAgentHandle
	script   []string
	pending  []types.GroupChatStart
	controls []ControlCall
	runs     int
	gate     chan struct{}
	mismatch string
}

// NewMockRuntime 创建运行时，agent 按顺序轮流说出 script 中的内容
func NewMockRuntime(script []string, agentIDs ...string) *MockRuntime {
	agents := make([]*MockAgentHandle, len(agentIDs))
	for i, id := range agentIDs {
		agents[i] = NewMockAgentHandle(id)
	}
	return &MockRuntime{agents: agents, script: append([]string{}, script...)}
}

// MockFactory 返回每次构建同一脚本新实例的工厂，并记录构建出的实例
func MockFactory(script []string, agentIDs ...string) (runtime.Factory, func() []*MockRuntime) {
	var (
		mu    sync.Mutex
		built []*MockRuntime
	)
	factory := runtime.FactoryFunc(func(context.Context) (runtime.Runtime, error) {
		rt := NewMockRuntime(script, agentIDs...)
		mu.Lock()
		built = append(built, rt)
		mu.Unlock()
		return rt, nil
	})
	return factory, func() []*MockRuntime {
		mu.Lock()
		defer mu.Unlock()
		return append([]*MockRuntime{}, built...)
	}
}

// WithGate 让每条消息投递前等待 gate 放行，便于测试运行中的状态
func (r *MockRuntime) WithGate(gate chan struct{}) *MockRuntime {
	r.gate = gate
	return r
}

// WithMismatchedKind 让内容为 content 的脚本消息以 control 类别投递，
// 载荷仍是 GroupChatMessage，agent 在投递前已观察到它
func (r *MockRuntime) WithMismatchedKind(content string) *MockRuntime {
	r.mismatch = content
	return r
}

// Agents 返回模拟 agent
func (r *MockRuntime) Agents() []*MockAgentHandle { return r.agents }

// Agent 按 id 查找 agent
func (r *MockRuntime) Agent(id string) *MockAgentHandle {
	for _, a := range r.agents {
		if a.ID() == id {
			return a
		}
	}
	return nil
}

// AgentHandles 实现 runtime.Runtime
func (r *MockRuntime) AgentHandles() []runtime.AgentHandle {
	out := make([]runtime.AgentHandle, len(r.agents))
	for i, a := range r.agents {
		out[i] = a
	}
	return out
}

// SendControlMessage 实现 runtime.Runtime
func (r *MockRuntime) SendControlMessage(_ context.Context, payload json.RawMessage, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controls = append(r.controls, ControlCall{Payload: append(json.RawMessage(nil), payload...), Target: target})

	var start types.GroupChatStart
	if err := json.Unmarshal(payload, &start); err != nil {
		return err
	}
	if start.Type != types.PayloadGroupChatStart {
		return errors.New("mock runtime only accepts GroupChatStart")
	}
	r.pending = append(r.pending, start)
	return nil
}

// Controls 返回收到的控制消息
func (r *MockRuntime) Controls() []ControlCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ControlCall{}, r.controls...)
}

// Runs 返回 Run 被调用的次数
func (r *MockRuntime) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// Run 实现 runtime.Runtime
func (r *MockRuntime) Run(ctx context.Context, sink runtime.MessageSink) error {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.gate != nil {
			select {
			case <-r.gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		evt, ok := r.next()
		if !ok {
			return nil
		}
		if err := sink.OnMessage(ctx, evt); err != nil {
			if errors.Is(err, runtime.ErrStopDelivery) {
				return nil
			}
			return err
		}
	}
}

// next 生成下一条事件并让所有 agent 观察到它
func (r *MockRuntime) next() (types.Event, bool) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		start := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		task := ""
		if len(start.Messages) > 0 {
			task = start.Messages[0].Content
		}
		r.observe(taskPrefix + task)
		return types.Event{Sender: "user", Kind: types.KindConversationStart, Payload: types.NewStartPayload(task)}, true
	}
	r.mu.Unlock()

	if len(r.agents) == 0 {
		return types.Event{}, false
	}
	pos := r.position()
	if pos >= len(r.script) {
		return types.Event{}, false
	}
	speaker := r.agents[pos%len(r.agents)].ID()
	content := r.script[pos]
	r.observe(content)
	kind := types.KindAgentMessage
	if r.mismatch != "" && content == r.mismatch {
		kind = types.KindControl
	}
	return types.Event{
		Sender:  speaker,
		Kind:    kind,
		Payload: types.NewMessagePayload(types.TextMessage{Source: speaker, Content: content}),
	}, true
}

func (r *MockRuntime) observe(content string) {
	for _, a := range r.agents {
		a.Observe(content)
	}
}

// position 是第一个 agent 已观察到的脚本消息数
func (r *MockRuntime) position() int {
	n := 0
	for _, s := range r.agents[0].Seen() {
		if !strings.HasPrefix(s, taskPrefix) {
			n++
		}
	}
	return n
}
