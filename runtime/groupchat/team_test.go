package groupchat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentrewind/runtime"
	"github.com/BaSui01/agentrewind/types"
)

func scripted() ScriptedResponder {
	return ScriptedResponder{Lines: map[string][]string{
		"alice": {"a1", "a2", "a3"},
		"bob":   {"b1", "b2", "b3"},
	}}
}

func newTeam(t *testing.T, cfg Config) *Team {
	t.Helper()
	team, err := New(cfg, scripted(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return team
}

type recorder struct {
	events []types.Event
	stopAt int
	hook   func(n int)
}

func (r *recorder) OnMessage(_ context.Context, evt types.Event) error {
	r.events = append(r.events, evt)
	if r.hook != nil {
		r.hook(len(r.events))
	}
	if r.stopAt > 0 && len(r.events) == r.stopAt {
		return runtime.ErrStopDelivery
	}
	return nil
}

func contents(t *testing.T, events []types.Event) []string {
	t.Helper()
	var out []string
	for _, evt := range events {
		if evt.Kind != types.KindAgentMessage {
			out = append(out, string(evt.Kind))
			continue
		}
		var msg types.GroupChatMessage
		require.NoError(t, json.Unmarshal(evt.Payload, &msg))
		out = append(out, msg.Message.Content)
	}
	return out
}

func start(t *testing.T, team *Team, task string) {
	t.Helper()
	require.NoError(t, team.SendControlMessage(context.Background(), types.NewStartPayload(task), team.Manager().ID()))
}

func TestTeam_RoundRobinUntilMaxMessages(t *testing.T) {
	team := newTeam(t, Config{TeamID: "t1", Participants: []string{"alice", "bob"}, MaxMessages: 5})
	start(t, team, "plan")

	rec := &recorder{}
	require.NoError(t, team.Run(context.Background(), rec))

	assert.Equal(t, []string{"conversation-start", "a1", "b1", "a2", "b2", "termination"}, contents(t, rec.events))
	assert.Equal(t, "alice/t1", rec.events[1].Sender)
	assert.Equal(t, "bob/t1", rec.events[2].Sender)
	for _, evt := range rec.events {
		assert.NoError(t, evt.Validate())
	}

	// A finished chat delivers nothing until a new task arrives.
	again := &recorder{}
	require.NoError(t, team.Run(context.Background(), again))
	assert.Empty(t, again.events)
}

func TestTeam_TextMentionTermination(t *testing.T) {
	team, err := New(Config{TeamID: "t1", Participants: []string{"alice", "bob"}, TerminationText: "TERMINATE"},
		ScriptedResponder{Lines: map[string][]string{"alice": {"hi"}, "bob": {"done TERMINATE"}}}, nil)
	require.NoError(t, err)
	start(t, team, "plan")

	rec := &recorder{}
	require.NoError(t, team.Run(context.Background(), rec))
	require.Len(t, rec.events, 4)

	var term types.GroupChatTermination
	require.NoError(t, json.Unmarshal(rec.events[3].Payload, &term))
	assert.Equal(t, "Text 'TERMINATE' mentioned", term.Reason)
}

func TestTeam_StopDeliveryResumesWhereItStopped(t *testing.T) {
	team := newTeam(t, Config{TeamID: "t1", Participants: []string{"alice", "bob"}, MaxMessages: 5})
	start(t, team, "plan")

	first := &recorder{stopAt: 2}
	require.NoError(t, team.Run(context.Background(), first))
	assert.Equal(t, []string{"conversation-start", "a1"}, contents(t, first.events))

	rest := &recorder{}
	require.NoError(t, team.Run(context.Background(), rest))
	assert.Equal(t, []string{"b1", "a2", "b2", "termination"}, contents(t, rest.events))
}

func TestTeam_RestoreContinuesFromCheckpoint(t *testing.T) {
	cfg := Config{TeamID: "shared", Participants: []string{"alice", "bob"}, MaxMessages: 6}
	factory, err := NewFactory(cfg, scripted(), nil)
	require.NoError(t, err)

	rt, err := factory.NewRuntime(context.Background())
	require.NoError(t, err)
	team := rt.(*Team)
	start(t, team, "plan")

	blobs := map[string][]byte{}
	rec := &recorder{}
	rec.hook = func(n int) {
		if n != 3 {
			return
		}
		for _, h := range team.AgentHandles() {
			blob, err := h.SerializeState(context.Background())
			require.NoError(t, err)
			blobs[h.ID()] = blob
		}
	}
	require.NoError(t, team.Run(context.Background(), rec))
	original := contents(t, rec.events)

	fresh, err := factory.NewRuntime(context.Background())
	require.NoError(t, err)
	for _, h := range fresh.AgentHandles() {
		blob, ok := blobs[h.ID()]
		require.True(t, ok, "no blob for %s", h.ID())
		require.NoError(t, h.RestoreState(context.Background(), blob))
	}

	replay := &recorder{}
	require.NoError(t, fresh.Run(context.Background(), replay))
	assert.Equal(t, original[3:], contents(t, replay.events))
	assert.Equal(t, fresh.(*Team).Participants()[0].Messages()[:3], team.Participants()[0].Messages()[:3])
}

func TestTeam_RestoreRejectsForeignState(t *testing.T) {
	a := newTeam(t, Config{TeamID: "a", Participants: []string{"alice"}})
	b := newTeam(t, Config{TeamID: "b", Participants: []string{"alice"}})

	blob, err := a.Manager().SerializeState(context.Background())
	require.NoError(t, err)
	assert.Error(t, b.Manager().RestoreState(context.Background(), blob))

	blob, err = a.Participants()[0].SerializeState(context.Background())
	require.NoError(t, err)
	assert.Error(t, b.Participants()[0].RestoreState(context.Background(), blob))
	assert.Error(t, b.Participants()[0].RestoreState(context.Background(), []byte("{")))
}

func TestTeam_ControlMessageReachesTarget(t *testing.T) {
	team := newTeam(t, Config{TeamID: "t1", Participants: []string{"alice", "bob"}, MaxMessages: 2})
	ctx := context.Background()
	require.NoError(t, team.SendControlMessage(ctx, types.NewControlPayload("note", "bob", "be brief"), "bob"))
	assert.Error(t, team.SendControlMessage(ctx, types.NewControlPayload("note", "carol", ""), "carol"))
	assert.Error(t, team.SendControlMessage(ctx, types.NewTerminationPayload("x", ""), ""))

	rec := &recorder{}
	require.NoError(t, team.Run(ctx, rec))
	require.Len(t, rec.events, 1)
	assert.Equal(t, types.KindControl, rec.events[0].Kind)
	assert.Len(t, team.Participants()[1].Messages(), 1)
	assert.Empty(t, team.Participants()[0].Messages())
}

func TestTeam_ResponderErrorStopsRun(t *testing.T) {
	boom := errors.New("model offline")
	team, err := New(Config{Participants: []string{"alice"}},
		ResponderFunc(func(context.Context, Request) (string, error) { return "", boom }), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, team.TeamID())
	start(t, team, "plan")

	err = team.Run(context.Background(), &recorder{})
	assert.ErrorIs(t, err, boom)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no participants", cfg: Config{}},
		{name: "duplicate", cfg: Config{Participants: []string{"a", "a"}}},
		{name: "slash in name", cfg: Config{Participants: []string{"a/b"}}},
		{name: "negative limit", cfg: Config{Participants: []string{"a"}, MaxMessages: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestEchoResponder(t *testing.T) {
	out, err := EchoResponder{}.Respond(context.Background(), Request{
		Speaker: "bob",
		History: []types.TextMessage{{Source: "alice", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "bob heard alice: hi", out)
}
