package groupchat

import (
	"context"
	"fmt"

	"github.com/BaSui01/agentrewind/types"
)

// Request is what a participant knows when it is asked to speak.
type Request struct {
	Speaker string
	Turn    int
	Task    string
	History []types.TextMessage
}

// Responder produces a participant's reply.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, req Request) (string, error)

// Respond implements Responder.
func (f ResponderFunc) Respond(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// EchoResponder repeats the last message it saw.
type EchoResponder struct{}

// Respond implements Responder.
func (EchoResponder) Respond(_ context.Context, req Request) (string, error) {
	if len(req.History) == 0 {
		return fmt.Sprintf("%s has nothing to reply to", req.Speaker), nil
	}
	last := req.History[len(req.History)-1]
	return fmt.Sprintf("%s heard %s: %s", req.Speaker, last.Source, last.Content), nil
}

// ScriptedResponder answers from fixed lines per speaker, indexed by the
// speaker's turn. Past the end of a script it falls back to a generic line.
type ScriptedResponder struct {
	Lines map[string][]string
}

// Respond implements Responder.
func (s ScriptedResponder) Respond(_ context.Context, req Request) (string, error) {
	if lines := s.Lines[req.Speaker]; req.Turn < len(lines) {
		return lines[req.Turn], nil
	}
	return fmt.Sprintf("%s turn %d", req.Speaker, req.Turn+1), nil
}
