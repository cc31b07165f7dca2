package groupchat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BaSui01/agentrewind/types"
)

// managerState is everything the turn-taking manager needs to continue a
// conversation from where a checkpoint left it.
type managerState struct {
	TeamID       string `json:"team_id"`
	NextSpeaker  int    `json:"next_speaker"`
	MessageCount int    `json:"message_count"`
	Task         string `json:"task"`
	Finished     bool   `json:"finished"`
	// PendingTermination is set when the last message met a termination
	// condition and the termination event has not been delivered yet.
	PendingTermination string `json:"pending_termination,omitempty"`
	Reason             string `json:"reason,omitempty"`
}

// Manager is the round-robin group chat manager agent.
type Manager struct {
	id    string
	mu    sync.Mutex
	state managerState
}

func newManager(teamID string) *Manager {
	return &Manager{
		id:    "group_chat_manager/" + teamID,
		state: managerState{TeamID: teamID},
	}
}

// ID implements runtime.AgentHandle.
func (m *Manager) ID() string { return m.id }

// SerializeState implements runtime.AgentHandle.
func (m *Manager) SerializeState(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal(m.state)
}

// RestoreState implements runtime.AgentHandle.
func (m *Manager) RestoreState(ctx context.Context, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var st managerState
	if err := json.Unmarshal(blob, &st); err != nil {
		return fmt.Errorf("decode manager state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.TeamID != m.state.TeamID {
		return fmt.Errorf("manager state belongs to team %q, not %q", st.TeamID, m.state.TeamID)
	}
	m.state = st
	return nil
}

func (m *Manager) snapshot() managerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) update(fn func(*managerState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.state)
}

// participantState is one participant's private view of the conversation.
type participantState struct {
	Name     string              `json:"name"`
	TeamID   string              `json:"team_id"`
	Messages []types.TextMessage `json:"messages"`
	Turns    int                 `json:"turns"`
}

// Participant is a chat agent addressed as name/team_id.
type Participant struct {
	id    string
	name  string
	mu    sync.Mutex
	state participantState
}

func newParticipant(name, teamID string) *Participant {
	return &Participant{
		id:    name + "/" + teamID,
		name:  name,
		state: participantState{Name: name, TeamID: teamID, Messages: []types.TextMessage{}},
	}
}

// ID implements runtime.AgentHandle.
func (p *Participant) ID() string { return p.id }

// Name returns the participant name without the team suffix.
func (p *Participant) Name() string { return p.name }

// SerializeState implements runtime.AgentHandle.
func (p *Participant) SerializeState(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return json.Marshal(p.state)
}

// RestoreState implements runtime.AgentHandle.
func (p *Participant) RestoreState(ctx context.Context, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var st participantState
	if err := json.Unmarshal(blob, &st); err != nil {
		return fmt.Errorf("decode participant state: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if st.Name != p.state.Name || st.TeamID != p.state.TeamID {
		return fmt.Errorf("state of %s/%s cannot be restored into %s", st.Name, st.TeamID, p.id)
	}
	if st.Messages == nil {
		st.Messages = []types.TextMessage{}
	}
	p.state = st
	return nil
}

// Messages returns the participant's view of the conversation.
func (p *Participant) Messages() []types.TextMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.TextMessage{}, p.state.Messages...)
}

func (p *Participant) observe(msg types.TextMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Messages = append(p.state.Messages, msg)
}

func (p *Participant) request(task string) Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Request{
		Speaker: p.state.Name,
		Turn:    p.state.Turns,
		Task:    task,
		History: append([]types.TextMessage{}, p.state.Messages...),
	}
}

func (p *Participant) spoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Turns++
}
