package history

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/runtime"
	"github.com/BaSui01/agentrewind/types"
)

// Journal bundles the event log and checkpoint store of one branch over the
// shared Index. It is the only way to truncate a log.
type Journal struct {
	branch types.BranchID
	log    *EventLog
	store  *CheckpointStore
	index  *Index
	opts   journalOptions
}

type journalOptions struct {
	concurrency int
	logger      *zap.Logger
}

// Option configures a Journal.
type Option func(*journalOptions)

// WithCaptureConcurrency bounds parallel agent serialization.
func WithCaptureConcurrency(n int) Option {
	return func(o *journalOptions) { o.concurrency = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *journalOptions) { o.logger = logger }
}

func buildOptions(opts []Option) journalOptions {
	o := journalOptions{concurrency: DefaultCaptureConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// NewRootJournal creates the journal of the initial branch: an empty log and
// an empty checkpoint set at sequence 0.
func NewRootJournal(branch types.BranchID, index *Index, opts ...Option) (*Journal, error) {
	o := buildOptions(opts)
	log, err := NewEventLog(branch, 0, nil)
	if err != nil {
		return nil, err
	}
	if err := index.Register(branch, 0, types.EmptyCheckpointSet(0)); err != nil {
		return nil, err
	}
	return newJournal(log, index, o), nil
}

func newJournal(log *EventLog, index *Index, o journalOptions) *Journal {
	return &Journal{
		branch: log.Branch(),
		log:    log,
		store:  NewCheckpointStore(log, index, o.concurrency, o.logger),
		index:  index,
		opts:   o,
	}
}

// Branch returns the branch id.
func (j *Journal) Branch() types.BranchID { return j.branch }

// Log exposes the event log for reads.
func (j *Journal) Log() *EventLog { return j.log }

// Store exposes the checkpoint store.
func (j *Journal) Store() *CheckpointStore { return j.store }

// Append adds evt to the log.
func (j *Journal) Append(evt types.Event) (types.Sequence, error) {
	return j.log.Append(evt)
}

// Capture checkpoints handles at the log tail.
func (j *Journal) Capture(ctx context.Context, handles []runtime.AgentHandle) (types.CheckpointSet, error) {
	tail, _ := j.log.LastSequence()
	if tail < j.log.Root() {
		tail = j.log.Root()
	}
	return j.store.Capture(ctx, tail, handles)
}

// CurrentSequence returns the newest checkpointed sequence.
func (j *Journal) CurrentSequence() types.Sequence {
	seq, err := j.index.CurrentSequence(j.branch)
	if err != nil {
		return 0
	}
	return seq
}

// Degraded reports whether the log holds an event with no checkpoint.
func (j *Journal) Degraded() bool {
	tail, _ := j.log.LastSequence()
	return tail > j.CurrentSequence()
}

// Checkpoint returns the set recorded at seq.
func (j *Journal) Checkpoint(seq types.Sequence) (types.CheckpointSet, error) {
	return j.store.Get(seq)
}

// History returns every event of the branch, inherited ones included.
func (j *Journal) History() []types.Event { return j.log.All() }

// Entries returns every recorded checkpoint of the branch.
func (j *Journal) Entries() ([]Entry, error) { return j.index.Entries(j.branch) }

// Revert discards checkpoints and events above target and returns the set
// to restore. undo puts both back; the caller invokes it only when applying
// the set to the agents failed.
func (j *Journal) Revert(target types.Sequence) (set types.CheckpointSet, undo func(), err error) {
	prevCurrent := j.CurrentSequence()
	var droppedEvents []types.Event
	set, droppedEntries, err := j.index.revert(j.branch, target, func() {
		last, _ := j.log.LastSequence()
		droppedEvents = j.log.Read(target+1, last)
		j.log.truncateAfter(target)
	})
	if err != nil {
		return types.CheckpointSet{}, nil, err
	}

	undo = func() {
		_ = j.index.reinstate(j.branch, droppedEntries, prevCurrent, func() {
			j.log.mu.Lock()
			defer j.log.mu.Unlock()
			j.log.events = append(j.log.events, droppedEvents...)
		})
	}
	j.opts.logger.Info("branch reverted",
		zap.Stringer("branch_id", j.branch),
		zap.Uint64("sequence", uint64(target)),
		zap.Int("dropped_events", len(droppedEvents)),
		zap.Int("dropped_checkpoints", len(droppedEntries)))
	return set, undo, nil
}

// Fork creates the journal of child rooted at seq on this branch. The child
// log starts with a copy of events 1..seq.
func (j *Journal) Fork(seq types.Sequence, child types.BranchID) (*Journal, types.CheckpointSet, error) {
	var log *EventLog
	set, err := j.index.fork(j.branch, seq, child, func() error {
		inherited := j.log.Read(1, seq)
		if types.Sequence(len(inherited)) != seq {
			return types.Errorf(types.ErrSequenceNotFound,
				"sequence %d is not in the log of branch %s", seq, j.branch)
		}
		var err error
		log, err = NewEventLog(child, seq, inherited)
		return err
	})
	if err != nil {
		return nil, types.CheckpointSet{}, err
	}
	j.opts.logger.Info("branch forked",
		zap.Stringer("branch_id", j.branch),
		zap.Stringer("child_id", child),
		zap.Uint64("sequence", uint64(seq)))
	return newJournal(log, j.index, j.opts), set, nil
}

// Discard removes the branch from the index. The journal must not be used
// afterwards.
func (j *Journal) Discard() {
	j.index.Unregister(j.branch)
}
