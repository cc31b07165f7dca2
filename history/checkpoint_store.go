package history

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentrewind/runtime"
	"github.com/BaSui01/agentrewind/types"
)

// DefaultCaptureConcurrency bounds parallel SerializeState calls when no
// limit is configured.
const DefaultCaptureConcurrency = 8

// CheckpointStore captures the state of every agent after an event and
// records the result in the Index for its branch.
type CheckpointStore struct {
	branch      types.BranchID
	log         *EventLog
	index       *Index
	concurrency int
	logger      *zap.Logger
}

// NewCheckpointStore creates a store bound to log and index.
func NewCheckpointStore(log *EventLog, index *Index, concurrency int, logger *zap.Logger) *CheckpointStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = DefaultCaptureConcurrency
	}
	return &CheckpointStore{
		branch:      log.Branch(),
		log:         log,
		index:       index,
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "checkpoint_store"), zap.Stringer("branch_id", log.Branch())),
	}
}

// Capture serializes every handle for seq. It succeeds for all agents or
// returns a *types.PartialCheckpointError and records nothing. A sequence
// that already has a recorded set is returned as is.
func (s *CheckpointStore) Capture(ctx context.Context, seq types.Sequence, handles []runtime.AgentHandle) (types.CheckpointSet, error) {
	tail, _ := s.log.LastSequence()
	if seq != tail {
		return types.CheckpointSet{}, types.Errorf(types.ErrInvalidState,
			"capture requested for sequence %d but log tail is %d", seq, tail)
	}
	if current, err := s.index.CurrentSequence(s.branch); err != nil {
		return types.CheckpointSet{}, err
	} else if current == seq {
		return s.index.Get(s.branch, seq)
	}

	var (
		mu       sync.Mutex
		blobs    = make(map[string][]byte, len(handles))
		failures []types.AgentFailure
	)

	// Failures are collected, not returned, so every agent is visited and
	// the error can name all of them.
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, h := range handles {
		g.Go(func() error {
			blob, err := h.SerializeState(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, types.AgentFailure{AgentID: h.ID(), Err: err})
				return nil
			}
			blobs[h.ID()] = blob
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		perr := types.NewPartialCheckpointError(seq, failures)
		s.logger.Warn("checkpoint capture failed",
			zap.Uint64("sequence", uint64(seq)),
			zap.Strings("agents", perr.Agents()))
		return types.CheckpointSet{}, perr
	}

	set := types.NewCheckpointSet(seq, blobs)
	if err := s.index.Record(s.branch, seq, set); err != nil {
		return types.CheckpointSet{}, err
	}
	s.logger.Debug("checkpoint recorded",
		zap.Uint64("sequence", uint64(seq)),
		zap.Int("agents", set.Len()))
	return set, nil
}

// Get returns the set recorded at seq.
func (s *CheckpointStore) Get(seq types.Sequence) (types.CheckpointSet, error) {
	return s.index.Get(s.branch, seq)
}
