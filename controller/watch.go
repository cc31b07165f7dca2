package controller

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/types"
)

// DefaultSubscriberBuffer is the channel size handed to each subscriber.
const DefaultSubscriberBuffer = 64

// hub fans intercepted events out to branch subscribers. Slow subscribers
// lose events instead of blocking delivery.
type hub struct {
	mu     sync.Mutex
	next   int
	subs   map[types.BranchID]map[int]chan types.Event
	logger *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		subs:   make(map[types.BranchID]map[int]chan types.Event),
		logger: logger,
	}
}

func (h *hub) subscribe(branch types.BranchID, buffer int) (<-chan types.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan types.Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[branch] == nil {
		h.subs[branch] = make(map[int]chan types.Event)
	}
	h.subs[branch][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[branch]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.subs, branch)
				}
			}
			close(ch)
		})
	}
}

func (h *hub) publish(evt types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[evt.BranchID] {
		select {
		case ch <- evt:
		default:
			h.logger.Warn("subscriber too slow, event dropped",
				zap.Stringer("branch_id", evt.BranchID),
				zap.Uint64("sequence", uint64(evt.Sequence)))
		}
	}
}

func (h *hub) subscribers(branch types.BranchID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[branch])
}
