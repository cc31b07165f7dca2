package types

import (
	"bytes"
	"sort"
)

// CheckpointSet maps agent ids to opaque state blobs captured right after the
// event at Sequence was processed. A set is immutable once recorded; accessors
// hand out copies.
type CheckpointSet struct {
	sequence Sequence
	agents   map[string][]byte
}

// NewCheckpointSet copies blobs into a new set.
func NewCheckpointSet(seq Sequence, blobs map[string][]byte) CheckpointSet {
	agents := make(map[string][]byte, len(blobs))
	for id, blob := range blobs {
		agents[id] = append([]byte(nil), blob...)
	}
	return CheckpointSet{sequence: seq, agents: agents}
}

// EmptyCheckpointSet is the set at a root with no events: agents reset.
func EmptyCheckpointSet(seq Sequence) CheckpointSet {
	return CheckpointSet{sequence: seq, agents: map[string][]byte{}}
}

// Sequence returns the log position the set belongs to.
func (c CheckpointSet) Sequence() Sequence { return c.sequence }

// Len returns the number of agents in the set.
func (c CheckpointSet) Len() int { return len(c.agents) }

// IsEmpty reports whether the set holds no agent state.
func (c CheckpointSet) IsEmpty() bool { return len(c.agents) == 0 }

// Blob returns a copy of one agent's state.
func (c CheckpointSet) Blob(agentID string) ([]byte, bool) {
	blob, ok := c.agents[agentID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), blob...), true
}

// AgentIDs returns the agent ids in sorted order.
func (c CheckpointSet) AgentIDs() []string {
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Blobs returns a copy of the whole mapping.
func (c CheckpointSet) Blobs() map[string][]byte {
	out := make(map[string][]byte, len(c.agents))
	for id, blob := range c.agents {
		out[id] = append([]byte(nil), blob...)
	}
	return out
}

// WithSequence returns the same blobs re-tagged at seq. Used when a fork
// duplicates a parent entry as the child's root.
func (c CheckpointSet) WithSequence(seq Sequence) CheckpointSet {
	return CheckpointSet{sequence: seq, agents: c.agents}
}

// Equal compares sequence and every blob byte for byte.
func (c CheckpointSet) Equal(other CheckpointSet) bool {
	if c.sequence != other.sequence || len(c.agents) != len(other.agents) {
		return false
	}
	for id, blob := range c.agents {
		ob, ok := other.agents[id]
		if !ok || !bytes.Equal(blob, ob) {
			return false
		}
	}
	return true
}
