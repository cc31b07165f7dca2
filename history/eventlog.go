package history

import (
	"sync"
	"time"

	"github.com/BaSui01/agentrewind/types"
)

// EventLog is the append-only record of one branch. Position i of the log
// holds sequence i+1, so sequences are gap-free by construction. A forked
// branch starts with a copy of its parent's events up to the fork point.
type EventLog struct {
	branch types.BranchID
	root   types.Sequence
	events []types.Event
	now    func() time.Time
	mu     sync.RWMutex
}

// NewEventLog creates a log for branch whose root is the last inherited
// event. inherited must hold exactly sequences 1..root.
func NewEventLog(branch types.BranchID, root types.Sequence, inherited []types.Event) (*EventLog, error) {
	if types.Sequence(len(inherited)) != root {
		return nil, types.Errorf(types.ErrInvalidState,
			"branch %s root %d needs %d inherited events, got %d", branch, root, root, len(inherited))
	}
	events := make([]types.Event, len(inherited))
	for i, evt := range inherited {
		if evt.Sequence != types.Sequence(i+1) {
			return nil, types.Errorf(types.ErrInvalidState,
				"inherited event at position %d has sequence %d", i, evt.Sequence)
		}
		events[i] = evt.Clone()
	}
	return &EventLog{
		branch: branch,
		root:   root,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Branch returns the owning branch.
func (l *EventLog) Branch() types.BranchID { return l.branch }

// Root returns the sequence the branch started from.
func (l *EventLog) Root() types.Sequence { return l.root }

// Append validates evt, assigns the next sequence and stores a copy.
func (l *EventLog) Append(evt types.Event) (types.Sequence, error) {
	if err := evt.Validate(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stored := evt.Clone()
	stored.Sequence = types.Sequence(len(l.events) + 1)
	stored.BranchID = l.branch
	if stored.Timestamp.IsZero() {
		stored.Timestamp = l.now()
	}
	l.events = append(l.events, stored)
	return stored.Sequence, nil
}

// Read returns the events with from <= sequence <= to, in order.
func (l *EventLog) Read(from, to types.Sequence) []types.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if from == 0 {
		from = 1
	}
	last := types.Sequence(len(l.events))
	if to > last {
		to = last
	}
	if from > to {
		return []types.Event{}
	}
	out := make([]types.Event, 0, to-from+1)
	for _, evt := range l.events[from-1 : to] {
		out = append(out, evt.Clone())
	}
	return out
}

// All returns every event in the log.
func (l *EventLog) All() []types.Event {
	last, _ := l.LastSequence()
	return l.Read(1, last)
}

// LastSequence returns the sequence of the tail event, or false when the log
// is empty.
func (l *EventLog) LastSequence() (types.Sequence, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return 0, false
	}
	return types.Sequence(len(l.events)), true
}

// Len returns the number of events, inherited ones included.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// truncateAfter drops every event above seq. Only the revert path calls it.
func (l *EventLog) truncateAfter(seq types.Sequence) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if int(seq) < len(l.events) {
		clear(l.events[seq:])
		l.events = l.events[:seq]
	}
}

// reset replaces every event. Only the import path calls it.
func (l *EventLog) reset(events []types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = events
}
