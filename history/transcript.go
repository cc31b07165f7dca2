package history

import (
	"encoding/json"

	"github.com/BaSui01/agentrewind/types"
)

// TranscriptEntry is one line of the human-readable conversation.
type TranscriptEntry struct {
	Sequence types.Sequence `json:"sequence"`
	Role     string         `json:"role"`
	Name     string         `json:"name"`
	Content  string         `json:"content"`
}

// Transcript condenses events into the conversation a person would read:
// the user task of each conversation-start and every agent reply. Stop
// messages, terminations and control events are left out.
func Transcript(events []types.Event) []TranscriptEntry {
	out := make([]TranscriptEntry, 0, len(events))
	for _, evt := range events {
		switch evt.Kind {
		case types.KindConversationStart:
			var start types.GroupChatStart
			if json.Unmarshal(evt.Payload, &start) != nil {
				continue
			}
			for _, m := range start.Messages {
				out = append(out, TranscriptEntry{Sequence: evt.Sequence, Role: "user", Name: m.Source, Content: m.Content})
			}
		case types.KindAgentMessage:
			var msg types.GroupChatMessage
			if json.Unmarshal(evt.Payload, &msg) != nil || msg.Message.Type == types.StopMessageType {
				continue
			}
			out = append(out, TranscriptEntry{
				Sequence: evt.Sequence,
				Role:     "assistant",
				Name:     msg.Message.Source,
				Content:  msg.Message.Content,
			})
		}
	}
	return out
}
