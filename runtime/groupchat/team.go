package groupchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/runtime"
	"github.com/BaSui01/agentrewind/types"
)

// Config describes a round-robin team.
type Config struct {
	// TeamID suffixes every agent id. Teams built for different branches of
	// one conversation share it so checkpoints restore onto matching agents.
	TeamID       string   `json:"team_id"`
	Participants []string `json:"participants"`
	// MaxMessages terminates the chat once this many messages, the task
	// included, were exchanged. 0 disables the limit.
	MaxMessages int `json:"max_messages"`
	// TerminationText terminates the chat when a reply contains it.
	TerminationText string `json:"termination_text"`
}

// DefaultConfig returns a two-person team that stops after ten messages.
func DefaultConfig() Config {
	return Config{
		Participants:    []string{"planner", "critic"},
		MaxMessages:     10,
		TerminationText: "TERMINATE",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Participants) == 0 {
		return errors.New("groupchat: at least one participant is required")
	}
	seen := make(map[string]bool, len(c.Participants))
	for _, name := range c.Participants {
		if name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("groupchat: invalid participant name %q", name)
		}
		if seen[name] {
			return fmt.Errorf("groupchat: duplicate participant %q", name)
		}
		seen[name] = true
	}
	if c.MaxMessages < 0 {
		return errors.New("groupchat: max_messages must not be negative")
	}
	return nil
}

// Team is one runtime instance: a manager plus its participants.
type Team struct {
	cfg          Config
	responder    Responder
	manager      *Manager
	participants []*Participant
	logger       *zap.Logger

	mu      sync.Mutex
	pending []json.RawMessage
}

var _ runtime.Runtime = (*Team)(nil)

// New builds a team. An empty TeamID gets a fresh uuid.
func New(cfg Config, responder Responder, logger *zap.Logger) (*Team, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TeamID == "" {
		cfg.TeamID = uuid.NewString()
	}
	if responder == nil {
		responder = EchoResponder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Team{
		cfg:       cfg,
		responder: responder,
		manager:   newManager(cfg.TeamID),
		logger:    logger.With(zap.String("component", "groupchat"), zap.String("team_id", cfg.TeamID)),
	}
	for _, name := range cfg.Participants {
		t.participants = append(t.participants, newParticipant(name, cfg.TeamID))
	}
	return t, nil
}

// NewFactory returns a factory whose teams all share one team id.
func NewFactory(cfg Config, responder Responder, logger *zap.Logger) (runtime.Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TeamID == "" {
		cfg.TeamID = uuid.NewString()
	}
	return runtime.FactoryFunc(func(ctx context.Context) (runtime.Runtime, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return New(cfg, responder, logger)
	}), nil
}

// TeamID returns the team id.
func (t *Team) TeamID() string { return t.cfg.TeamID }

// Manager returns the manager agent.
func (t *Team) Manager() *Manager { return t.manager }

// Participants returns the participants in speaking order.
func (t *Team) Participants() []*Participant { return t.participants }

// AgentHandles implements runtime.Runtime.
func (t *Team) AgentHandles() []runtime.AgentHandle {
	out := make([]runtime.AgentHandle, 0, len(t.participants)+1)
	out = append(out, t.manager)
	for _, p := range t.participants {
		out = append(out, p)
	}
	return out
}

// SendControlMessage implements runtime.Runtime. GroupChatStart and
// GroupChatControl payloads are accepted and delivered on the next Run.
func (t *Team) SendControlMessage(_ context.Context, payload json.RawMessage, target string) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return fmt.Errorf("groupchat: decode control payload: %w", err)
	}
	switch head.Type {
	case types.PayloadGroupChatStart:
		if target != "" && target != t.manager.id {
			return fmt.Errorf("groupchat: start message must target %s, got %s", t.manager.id, target)
		}
	case types.PayloadGroupChatControl:
		if target != "" && t.participant(target) == nil {
			return fmt.Errorf("groupchat: unknown control target %q", target)
		}
	default:
		return fmt.Errorf("groupchat: unsupported control payload %q", head.Type)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, append(json.RawMessage(nil), payload...))
	return nil
}

func (t *Team) participant(id string) *Participant {
	for _, p := range t.participants {
		if p.id == id || p.name == id {
			return p
		}
	}
	return nil
}

func (t *Team) popPending() (json.RawMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return nil, false
	}
	next := t.pending[0]
	t.pending = t.pending[1:]
	return next, true
}

// Run implements runtime.Runtime. Each iteration mutates agent state for
// exactly one event and then hands that event to sink, so a checkpoint taken
// inside OnMessage matches the event just delivered.
func (t *Team) Run(ctx context.Context, sink runtime.MessageSink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		evt, ok, err := t.step(ctx)
		if err != nil {
			return err
		}
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

// step produces the next event, or false when the conversation is idle.
func (t *Team) step(ctx context.Context) (types.Event, bool, error) {
	if payload, ok := t.popPending(); ok {
		return t.control(payload)
	}

	st := t.manager.snapshot()
	switch {
	case st.PendingTermination != "":
		t.manager.update(func(s *managerState) {
			s.Finished = true
			s.Reason = s.PendingTermination
			s.PendingTermination = ""
		})
		t.logger.Debug("conversation terminated", zap.String("reason", st.PendingTermination))
		return types.Event{
			Sender:  t.manager.id,
			Kind:    types.KindTermination,
			Payload: types.NewTerminationPayload(st.PendingTermination, t.manager.id),
		}, true, nil
	case st.Finished || st.Task == "":
		return types.Event{}, false, nil
	}

	speaker := t.participants[st.NextSpeaker%len(t.participants)]
	content, err := t.responder.Respond(ctx, speaker.request(st.Task))
	if err != nil {
		return types.Event{}, false, fmt.Errorf("groupchat: %s failed to respond: %w", speaker.name, err)
	}
	msg := types.TextMessage{ID: uuid.NewString(), Source: speaker.name, Content: content}
	for _, p := range t.participants {
		p.observe(msg)
	}
	speaker.spoke()
	t.manager.update(func(s *managerState) {
		s.MessageCount++
		s.NextSpeaker = (s.NextSpeaker + 1) % len(t.participants)
		s.PendingTermination = t.terminationReason(s.MessageCount, content)
	})
	return types.Event{Sender: speaker.id, Kind: types.KindAgentMessage, Payload: types.NewMessagePayload(msg)}, true, nil
}

func (t *Team) control(payload json.RawMessage) (types.Event, bool, error) {
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(payload, &head)

	if head.Type == types.PayloadGroupChatStart {
		var start types.GroupChatStart
		if err := json.Unmarshal(payload, &start); err != nil {
			return types.Event{}, false, fmt.Errorf("groupchat: decode start: %w", err)
		}
		task := ""
		for _, m := range start.Messages {
			for _, p := range t.participants {
				p.observe(m)
			}
			task = m.Content
		}
		t.manager.update(func(s *managerState) {
			s.Task = task
			s.Finished = false
			s.Reason = ""
			s.MessageCount = len(start.Messages)
			s.PendingTermination = t.terminationReason(s.MessageCount, "")
		})
		return types.Event{Sender: "user", Kind: types.KindConversationStart, Payload: payload}, true, nil
	}

	var ctrl types.GroupChatControl
	if err := json.Unmarshal(payload, &ctrl); err != nil {
		return types.Event{}, false, fmt.Errorf("groupchat: decode control: %w", err)
	}
	if ctrl.Body != "" {
		note := types.TextMessage{ID: uuid.NewString(), Source: "operator", Content: ctrl.Body}
		if p := t.participant(ctrl.Target); p != nil {
			p.observe(note)
		} else {
			for _, p := range t.participants {
				p.observe(note)
			}
		}
	}
	return types.Event{Sender: "operator", Kind: types.KindControl, Payload: payload}, true, nil
}

func (t *Team) terminationReason(count int, content string) string {
	if t.cfg.TerminationText != "" && strings.Contains(content, t.cfg.TerminationText) {
		return fmt.Sprintf("Text '%s' mentioned", t.cfg.TerminationText)
	}
	if t.cfg.MaxMessages > 0 && count >= t.cfg.MaxMessages {
		return fmt.Sprintf("Maximum number of messages %d reached, current message count: %d", t.cfg.MaxMessages, count)
	}
	return ""
}
