package runtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/BaSui01/agentrewind/types"
)

// ErrStopDelivery is returned by a MessageSink to stop the delivery loop at
// the current event boundary. Run returns nil when it sees it.
var ErrStopDelivery = errors.New("runtime: stop delivery")

// AgentHandle is a live agent whose state can be pulled and pushed as an
// opaque blob. Nothing else about the agent is visible to the engine.
type AgentHandle interface {
	ID() string
	SerializeState(ctx context.Context) ([]byte, error)
	RestoreState(ctx context.Context, blob []byte) error
}

// MessageSink receives every delivered message exactly once, in delivery
// order. The runtime must not deliver the next message before OnMessage
// returns.
type MessageSink interface {
	OnMessage(ctx context.Context, evt types.Event) error
}

// MessageSinkFunc adapts a function to MessageSink.
type MessageSinkFunc func(ctx context.Context, evt types.Event) error

// OnMessage implements MessageSink.
func (f MessageSinkFunc) OnMessage(ctx context.Context, evt types.Event) error {
	return f(ctx, evt)
}

// Runtime is one instance of the external multi-agent runtime.
type Runtime interface {
	// AgentHandles returns every agent whose state makes up a checkpoint.
	AgentHandles() []AgentHandle

	// SendControlMessage queues payload for target. A GroupChatStart payload
	// is delivered as a conversation-start event on the next Run.
	SendControlMessage(ctx context.Context, payload json.RawMessage, target string) error

	// Run delivers messages to sink until the conversation terminates, ctx
	// is done, or sink returns an error. ErrStopDelivery yields nil.
	Run(ctx context.Context, sink MessageSink) error
}

// Factory builds fresh runtime instances, one per branch.
type Factory interface {
	NewRuntime(ctx context.Context) (Runtime, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Runtime, error)

// NewRuntime implements Factory.
func (f FactoryFunc) NewRuntime(ctx context.Context) (Runtime, error) {
	return f(ctx)
}

// HandleIDs lists the ids of handles in order.
func HandleIDs(handles []AgentHandle) []string {
	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = h.ID()
	}
	return ids
}
