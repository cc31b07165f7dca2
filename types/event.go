package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Sequence is a position in a branch's event log. Sequence 0 is the empty
// root of the initial branch; the first recorded event is 1.
type Sequence uint64

// BranchID identifies a branch. The initial branch is 0.
type BranchID uint64

// String renders the id the way it appears in URLs and logs.
func (b BranchID) String() string { return strconv.FormatUint(uint64(b), 10) }

// EventKind enumerates what an event means to the conversation.
type EventKind string

const (
	KindConversationStart EventKind = "conversation-start"
	KindAgentMessage      EventKind = "agent-message"
	KindTermination       EventKind = "termination"
	KindControl           EventKind = "control"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindConversationStart, KindAgentMessage, KindTermination, KindControl:
		return true
	}
	return false
}

// Payload discriminators. Each kind accepts exactly one payload type.
const (
	PayloadGroupChatStart       = "GroupChatStart"
	PayloadGroupChatMessage     = "GroupChatMessage"
	PayloadGroupChatTermination = "GroupChatTermination"
	PayloadGroupChatControl     = "GroupChatControl"
)

// PayloadTypeFor returns the payload discriminator a kind requires.
func PayloadTypeFor(kind EventKind) string {
	switch kind {
	case KindConversationStart:
		return PayloadGroupChatStart
	case KindAgentMessage:
		return PayloadGroupChatMessage
	case KindTermination:
		return PayloadGroupChatTermination
	case KindControl:
		return PayloadGroupChatControl
	}
	return ""
}

// Event is one message that transited the runtime. Events are immutable once
// appended.
type Event struct {
	Sequence  Sequence        `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Sender    string          `json:"sender"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	BranchID  BranchID        `json:"branch_id"`
}

// Clone returns a deep copy so callers never share payload bytes.
func (e Event) Clone() Event {
	out := e
	if e.Payload != nil {
		out.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return out
}

// PayloadType reads the "type" discriminator of the payload.
func (e Event) PayloadType() (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if len(e.Payload) == 0 {
		return "", fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(e.Payload, &head); err != nil {
		return "", err
	}
	return head.Type, nil
}

// Validate checks the kind and that the payload matches it.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return Errorf(ErrInvalidEventKind, "unknown event kind %q", e.Kind)
	}
	got, err := e.PayloadType()
	if err != nil {
		return NewError(ErrInvalidEventKind, "unreadable payload").WithCause(err)
	}
	if want := PayloadTypeFor(e.Kind); got != want {
		return Errorf(ErrInvalidEventKind, "kind %s requires payload %s, got %q", e.Kind, want, got)
	}
	return nil
}

// =============================================================================
// Group chat payloads
// =============================================================================

// TextMessage is the unit agents exchange.
type TextMessage struct {
	ID      string `json:"id,omitempty"`
	Source  string `json:"source"`
	Content string `json:"content"`
	// Type distinguishes ordinary text from a stop message.
	Type string `json:"type,omitempty"`
}

// StopMessageType marks a TextMessage that ends the conversation.
const StopMessageType = "StopMessage"

// GroupChatStart opens (or re-opens) a conversation with a task.
type GroupChatStart struct {
	Type     string        `json:"type"`
	Messages []TextMessage `json:"messages"`
}

// GroupChatMessage carries one agent's reply to the whole team.
type GroupChatMessage struct {
	Type    string      `json:"type"`
	Message TextMessage `json:"message"`
}

// GroupChatTermination is emitted once when a termination condition fires.
type GroupChatTermination struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Source string `json:"source,omitempty"`
}

// GroupChatControl is an operator instruction addressed to one agent.
type GroupChatControl struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Target  string `json:"target,omitempty"`
	Body    string `json:"body,omitempty"`
}

// NewStartPayload builds a conversation-start payload for a user task.
func NewStartPayload(task string) json.RawMessage {
	return mustJSON(GroupChatStart{
		Type:     PayloadGroupChatStart,
		Messages: []TextMessage{{Source: "user", Content: task}},
	})
}

// NewMessagePayload builds an agent-message payload.
func NewMessagePayload(msg TextMessage) json.RawMessage {
	return mustJSON(GroupChatMessage{Type: PayloadGroupChatMessage, Message: msg})
}

// NewTerminationPayload builds a termination payload.
func NewTerminationPayload(reason, source string) json.RawMessage {
	return mustJSON(GroupChatTermination{Type: PayloadGroupChatTermination, Reason: reason, Source: source})
}

// NewControlPayload builds a control payload.
func NewControlPayload(command, target, body string) json.RawMessage {
	return mustJSON(GroupChatControl{Type: PayloadGroupChatControl, Command: command, Target: target, Body: body})
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal payload: %v", err))
	}
	return data
}
