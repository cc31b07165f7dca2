package controller

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/history"
	"github.com/BaSui01/agentrewind/internal/metrics"
	"github.com/BaSui01/agentrewind/runtime"
	"github.com/BaSui01/agentrewind/types"
)

// RootLabel names the initial branch.
const RootLabel = "main"

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	logger             *zap.Logger
	collector          *metrics.Collector
	captureConcurrency int
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = logger }
}

// WithCollector records Prometheus metrics through collector.
func WithCollector(collector *metrics.Collector) ManagerOption {
	return func(o *managerOptions) { o.collector = collector }
}

// WithCaptureConcurrency bounds parallel agent serialization per capture.
func WithCaptureConcurrency(n int) ManagerOption {
	return func(o *managerOptions) { o.captureConcurrency = n }
}

// Manager is the operator surface over every branch of one conversation
// universe. There is no global current branch; every call names one.
type Manager struct {
	env    *env
	logger *zap.Logger

	mu          sync.RWMutex
	controllers map[types.BranchID]*Controller
}

// NewManager creates an empty universe whose runtimes come from factory.
func NewManager(factory runtime.Factory, opts ...ManagerOption) (*Manager, error) {
	o := managerOptions{captureConcurrency: history.DefaultCaptureConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	obs, err := newInstruments(o.collector)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		logger:      o.logger.With(zap.String("component", "manager")),
		controllers: make(map[types.BranchID]*Controller),
	}
	m.env = &env{
		factory:  factory,
		tree:     history.NewTree(),
		index:    history.NewIndex(),
		hub:      newHub(o.logger),
		obs:      obs,
		logger:   o.logger,
		register: m.register,
		opts: []history.Option{
			history.WithCaptureConcurrency(o.captureConcurrency),
			history.WithLogger(o.logger),
		},
	}
	return m, nil
}

func (m *Manager) register(c *Controller) {
	m.mu.Lock()
	m.controllers[c.branch] = c
	n := len(m.controllers)
	m.mu.Unlock()
	m.env.obs.branches(n)
}

// Controller returns the controller of a branch.
func (m *Manager) Controller(id types.BranchID) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[id]
	if !ok {
		return nil, types.Errorf(types.ErrBranchNotFound, "branch %s does not exist", id)
	}
	return c, nil
}

// Branches lists every live branch in ascending order.
func (m *Manager) Branches() []types.BranchID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]types.BranchID, 0, len(m.controllers))
	for id := range m.controllers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// root returns the initial branch, creating it on first use.
func (m *Manager) root(ctx context.Context) (*Controller, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.controllers[0]; ok {
		return c, false, nil
	}
	if m.env.tree.Len() > 0 {
		return nil, false, types.NewError(types.ErrInvalidState, "initial branch is missing from a loaded tree")
	}

	rt, err := m.env.factory.NewRuntime(ctx)
	if err != nil {
		return nil, false, types.NewError(types.ErrInternalError, "build runtime").WithCause(err)
	}
	id, err := m.env.tree.CreateRoot(RootLabel)
	if err != nil {
		return nil, false, err
	}
	j, err := history.NewRootJournal(id, m.env.index, m.env.opts...)
	if err != nil {
		return nil, false, err
	}
	c, err := newController(ctx, m.env, j, rt, StateIdle)
	if err != nil {
		m.env.index.Unregister(id)
		_ = m.env.tree.MarkAbandoned(id)
		return nil, false, err
	}
	m.controllers[id] = c
	m.env.obs.branches(len(m.controllers))
	return c, true, nil
}

// =============================================================================
// Operator surface
// =============================================================================

// Start begins a new conversation and returns its branch without waiting.
// The first conversation runs on the initial branch; later ones fork the
// initial branch at its empty root.
func (m *Manager) Start(ctx context.Context, task string) (types.BranchID, error) {
	root, _, err := m.root(ctx)
	if err != nil {
		return 0, err
	}
	target := root
	if root.State() != StateIdle || root.journal.Log().Len() > 0 {
		child, err := root.fork(ctx, 0, task)
		if err != nil {
			return 0, err
		}
		target = child
	}
	if err := target.Resume(ctx, &task); err != nil {
		return 0, err
	}
	m.logger.Info("conversation started", zap.Stringer("branch_id", target.branch))
	return target.branch, nil
}

// Run starts a conversation and waits for it to stop.
func (m *Manager) Run(ctx context.Context, task string) (types.BranchID, error) {
	id, err := m.Start(ctx, task)
	if err != nil {
		return 0, err
	}
	return id, m.Wait(ctx, id)
}

// Revert rolls branch back to seq.
func (m *Manager) Revert(ctx context.Context, id types.BranchID, seq types.Sequence) error {
	c, err := m.Controller(id)
	if err != nil {
		return err
	}
	return c.RevertTo(ctx, seq)
}

// Branch forks a new branch from id at seq.
func (m *Manager) Branch(ctx context.Context, id types.BranchID, seq types.Sequence, label string) (types.BranchID, error) {
	c, err := m.Controller(id)
	if err != nil {
		return 0, err
	}
	return c.BranchFrom(ctx, seq, label)
}

// Resume continues branch id, optionally with a new task.
func (m *Manager) Resume(ctx context.Context, id types.BranchID, task *string) error {
	c, err := m.Controller(id)
	if err != nil {
		return err
	}
	return c.Resume(ctx, task)
}

// Pause stops branch id at the next event boundary.
func (m *Manager) Pause(ctx context.Context, id types.BranchID) error {
	c, err := m.Controller(id)
	if err != nil {
		return err
	}
	return c.Pause(ctx)
}

// Wait blocks until branch id stops running.
func (m *Manager) Wait(ctx context.Context, id types.BranchID) error {
	c, err := m.Controller(id)
	if err != nil {
		return err
	}
	return c.Wait(ctx)
}

// RetryCapture checkpoints the tail of a degraded branch again.
func (m *Manager) RetryCapture(ctx context.Context, id types.BranchID) (types.CheckpointSet, error) {
	c, err := m.Controller(id)
	if err != nil {
		return types.CheckpointSet{}, err
	}
	return c.RetryCapture(ctx)
}

// History returns every event of branch id, inherited ones included.
func (m *Manager) History(id types.BranchID) ([]types.Event, error) {
	c, err := m.Controller(id)
	if err != nil {
		return nil, err
	}
	return c.journal.History(), nil
}

// Transcript returns the readable conversation of branch id.
func (m *Manager) Transcript(id types.BranchID) ([]history.TranscriptEntry, error) {
	events, err := m.History(id)
	if err != nil {
		return nil, err
	}
	return history.Transcript(events), nil
}

// CurrentSequence returns the newest checkpointed sequence of branch id.
func (m *Manager) CurrentSequence(id types.BranchID) (types.Sequence, error) {
	c, err := m.Controller(id)
	if err != nil {
		return 0, err
	}
	return c.journal.CurrentSequence(), nil
}

// Checkpoint returns the set recorded at seq on branch id.
func (m *Manager) Checkpoint(id types.BranchID, seq types.Sequence) (types.CheckpointSet, error) {
	c, err := m.Controller(id)
	if err != nil {
		return types.CheckpointSet{}, err
	}
	return c.journal.Checkpoint(seq)
}

// Tree returns a snapshot of the branch tree.
func (m *Manager) Tree() history.TreeSnapshot {
	return m.env.tree.Snapshot()
}

// Subscribe streams events appended to branch id from now on. The returned
// function unsubscribes and closes the channel.
func (m *Manager) Subscribe(id types.BranchID, buffer int) (<-chan types.Event, func(), error) {
	if _, err := m.Controller(id); err != nil {
		return nil, nil, err
	}
	ch, cancel := m.env.hub.subscribe(id, buffer)
	return ch, cancel, nil
}

// Shutdown stops every running branch.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		controllers = append(controllers, c)
	}
	m.mu.RUnlock()

	for _, c := range controllers {
		if err := c.stop(ctx); err != nil {
			return err
		}
	}
	m.logger.Info("manager stopped", zap.Int("branches", len(controllers)))
	return nil
}

// =============================================================================
// Export and import
// =============================================================================

// ExportLog encodes the log of branch id.
func (m *Manager) ExportLog(id types.BranchID) ([]byte, error) {
	c, err := m.Controller(id)
	if err != nil {
		return nil, err
	}
	return c.journal.ExportLog()
}

// ExportCheckpoints encodes the checkpoints of branch id.
func (m *Manager) ExportCheckpoints(id types.BranchID) ([]byte, error) {
	c, err := m.Controller(id)
	if err != nil {
		return nil, err
	}
	return c.journal.ExportCheckpoints()
}

// ExportTree encodes the branch tree.
func (m *Manager) ExportTree() ([]byte, error) {
	return history.ExportTree(m.env.tree.Snapshot())
}

// ImportLog replaces the log of the branch named in blob. Importing branch 0
// into an empty universe creates the initial branch first.
func (m *Manager) ImportLog(ctx context.Context, blob []byte) error {
	doc, err := history.DecodeLog(blob)
	if err != nil {
		return err
	}
	c, err := m.importTarget(ctx, doc.BranchID)
	if err != nil {
		return err
	}
	return c.importLog(ctx, doc)
}

// ImportCheckpoints replaces the checkpoints of the branch named in blob and
// restores its agents to the newest one.
func (m *Manager) ImportCheckpoints(ctx context.Context, blob []byte) error {
	doc, err := history.DecodeCheckpoints(blob)
	if err != nil {
		return err
	}
	c, err := m.importTarget(ctx, doc.BranchID)
	if err != nil {
		return err
	}
	return c.importCheckpoints(ctx, doc)
}

func (m *Manager) importTarget(ctx context.Context, id types.BranchID) (*Controller, error) {
	if c, err := m.Controller(id); err == nil {
		return c, nil
	}
	if id != 0 {
		return nil, types.Errorf(types.ErrBranchNotFound, "branch %s does not exist", id)
	}
	c, _, err := m.root(ctx)
	return c, err
}
