package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/history"
	"github.com/BaSui01/agentrewind/runtime"
	"github.com/BaSui01/agentrewind/types"
)

// env is what every controller of one Manager shares.
type env struct {
	factory  runtime.Factory
	tree     *history.Tree
	index    *history.Index
	hub      *hub
	obs      *instruments
	logger   *zap.Logger
	register func(*Controller)
	opts     []history.Option
}

// Controller owns one branch: its journal and its runtime instance. It
// intercepts every delivered message, checkpoints it, and reseeds the agents
// on revert or branch.
type Controller struct {
	branch   types.BranchID
	journal  *history.Journal
	runtime  runtime.Runtime
	baseline map[string][]byte
	env      *env
	obs      *instruments
	logger   *zap.Logger

	// opMu serializes revert, branch, resume and import. Callers that find
	// it held fail with InvalidState instead of waiting.
	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	degraded bool
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error

	pauseRequested atomic.Bool
	deliverMu      sync.Mutex
}

var _ runtime.MessageSink = (*Controller)(nil)

func newController(ctx context.Context, e *env, j *history.Journal, rt runtime.Runtime, state State) (*Controller, error) {
	baseline, err := captureBaseline(ctx, rt)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		runtime:  rt,
		baseline: baseline,
		env:      e,
		obs:      e.obs,
		state:    state,
	}
	c.attach(j)
	return c, nil
}

func (c *Controller) attach(j *history.Journal) {
	c.journal = j
	c.branch = j.Branch()
	c.logger = c.env.logger.With(zap.String("component", "controller"), zap.Stringer("branch_id", c.branch))
	c.degraded = j.Degraded()
}

// Branch returns the branch id.
func (c *Controller) Branch() types.BranchID { return c.branch }

// Journal exposes the branch history.
func (c *Controller) Journal() *history.Journal { return c.journal }

// Runtime returns the runtime instance driven by this controller.
func (c *Controller) Runtime() runtime.Runtime { return c.runtime }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Degraded reports whether the agents may be ahead of the newest checkpoint:
// the last event has no checkpoint, or the last delivery was rejected.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Err returns the error that ended the last run, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

func (c *Controller) setState(ctx context.Context, to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from != to {
		c.obs.transition(ctx, from, to)
		c.logger.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	}
}

// beginOp takes the operation lock and checks the controller is at rest.
func (c *Controller) beginOp(op string, allowDegraded bool) error {
	if !c.opMu.TryLock() {
		return types.Errorf(types.ErrInvalidState, "branch %s: another operation is in progress", c.branch)
	}
	c.mu.Lock()
	state, degraded := c.state, c.degraded
	c.mu.Unlock()

	switch {
	case state == StateRunning || state == StateReseeding:
		c.opMu.Unlock()
		return types.Errorf(types.ErrInvalidState, "branch %s: cannot %s while %s", c.branch, op, state)
	case degraded && !allowDegraded:
		c.opMu.Unlock()
		return types.Errorf(types.ErrInvalidState,
			"branch %s: last event has no checkpoint; revert or retry capture first", c.branch)
	}
	return nil
}

// =============================================================================
// Interception
// =============================================================================

// OnMessage appends evt and checkpoints every agent before returning, so the
// runtime cannot deliver the next message first.
func (c *Controller) OnMessage(ctx context.Context, evt types.Event) error {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	if state := c.State(); state != StateRunning {
		return types.Errorf(types.ErrInvalidState, "branch %s: message delivered while %s", c.branch, state)
	}

	ctx, span, started := c.obs.start(ctx, "intercept", c.branch, attribute.String("event.kind", string(evt.Kind)))
	err := c.intercept(ctx, evt)
	c.obs.end(ctx, span, "intercept", started, err)
	if err != nil {
		return err
	}

	if c.pauseRequested.Load() {
		return runtime.ErrStopDelivery
	}
	return nil
}

func (c *Controller) intercept(ctx context.Context, evt types.Event) error {
	seq, err := c.journal.Append(evt)
	if err != nil {
		// The runtime may have moved its agents before delivering, so they
		// no longer match the newest checkpoint.
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		c.logger.Warn("event rejected, delivery stopped", zap.String("kind", string(evt.Kind)), zap.Error(err))
		return err
	}
	c.obs.event(ctx, evt.Kind)

	handles := c.runtime.AgentHandles()
	started := time.Now()
	_, err = c.journal.Capture(ctx, handles)
	c.obs.capture(ctx, len(handles), started, err)
	if err != nil {
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		c.logger.Error("checkpoint capture failed, delivery stopped",
			zap.Uint64("sequence", uint64(seq)), zap.Error(err))
		return err
	}

	if stored := c.journal.Log().Read(seq, seq); len(stored) == 1 {
		c.env.hub.publish(stored[0])
	}
	return nil
}

// =============================================================================
// Execution
// =============================================================================

// Resume starts the runtime in the background. A non-nil task is injected
// as a conversation-start event before anything else is delivered.
func (c *Controller) Resume(ctx context.Context, task *string) (err error) {
	ctx, span, started := c.obs.start(ctx, "resume", c.branch, attribute.Bool("task", task != nil))
	defer func() { c.obs.end(ctx, span, "resume", started, err) }()

	if err := c.beginOp("resume", false); err != nil {
		return err
	}
	defer c.opMu.Unlock()

	if task != nil {
		payload := types.NewStartPayload(*task)
		if err := c.runtime.SendControlMessage(ctx, payload, ""); err != nil {
			return types.NewError(types.ErrInternalError, "inject task").WithCause(err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.pauseRequested.Store(false)
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.runErr = nil
	c.mu.Unlock()
	c.setState(ctx, StateRunning)

	c.logger.Info("branch resumed", zap.Bool("with_task", task != nil))
	go c.run(runCtx, cancel, done)
	return nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	err := c.runtime.Run(ctx, c)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}

	c.mu.Lock()
	c.runErr = err
	c.mu.Unlock()
	c.setState(ctx, StatePaused)

	if err != nil {
		c.logger.Error("run stopped with error", zap.Error(err))
		return
	}
	last, _ := c.journal.Log().LastSequence()
	c.logger.Info("run stopped", zap.Uint64("sequence", uint64(last)))
}

// Pause stops delivery at the next event boundary and waits until the
// runtime has returned.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	done := c.done
	c.mu.Unlock()

	c.pauseRequested.Store(true)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the current run ends and returns its error.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop cancels a running runtime and waits for it to return.
func (c *Controller) stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	running := c.state == StateRunning
	c.mu.Unlock()
	if !running || cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Revert and branch
// =============================================================================

// RevertTo rolls the branch back to seq and restores every agent to the
// checkpoint recorded there. On a restore failure the branch is left as it
// was before the call.
func (c *Controller) RevertTo(ctx context.Context, seq types.Sequence) (err error) {
	ctx, span, started := c.obs.start(ctx, "revert", c.branch, attribute.Int64("sequence", int64(seq)))
	defer func() { c.obs.end(ctx, span, "revert", started, err) }()

	if err := c.beginOp("revert", true); err != nil {
		return err
	}
	defer c.opMu.Unlock()

	set, undo, err := c.journal.Revert(seq)
	if err != nil {
		return err
	}

	prev := c.State()
	c.setState(ctx, StateReseeding)
	if err := c.reseed(ctx, set, "revert"); err != nil {
		undo()
		c.setState(ctx, prev)
		return err
	}

	c.mu.Lock()
	c.degraded = false
	c.mu.Unlock()
	if prev == StateIdle {
		prev = StatePaused
	}
	c.setState(ctx, prev)
	return nil
}

// BranchFrom forks a new branch at seq, reseeds a fresh runtime with the
// checkpoint recorded there and returns the new branch id, paused.
func (c *Controller) BranchFrom(ctx context.Context, seq types.Sequence, label string) (id types.BranchID, err error) {
	ctx, span, started := c.obs.start(ctx, "branch", c.branch, attribute.Int64("sequence", int64(seq)))
	defer func() { c.obs.end(ctx, span, "branch", started, err) }()

	if err := c.beginOp("branch", false); err != nil {
		return 0, err
	}
	defer c.opMu.Unlock()

	child, err := c.fork(ctx, seq, label)
	if err != nil {
		return 0, err
	}
	return child.branch, nil
}

// fork does the work of BranchFrom without checking this controller's state.
// Forking only reads the source under its index read lock.
func (c *Controller) fork(ctx context.Context, seq types.Sequence, label string) (*Controller, error) {
	if _, err := c.journal.Checkpoint(seq); err != nil {
		return nil, err
	}

	rt, err := c.env.factory.NewRuntime(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build runtime for branch").WithCause(err)
	}
	baseline, err := captureBaseline(ctx, rt)
	if err != nil {
		return nil, err
	}

	childID, err := c.env.tree.CreateChild(c.branch, seq, label)
	if err != nil {
		return nil, err
	}
	journal, set, err := c.journal.Fork(seq, childID)
	if err != nil {
		_ = c.env.tree.MarkAbandoned(childID)
		return nil, err
	}

	child := &Controller{
		runtime:  rt,
		baseline: baseline,
		env:      c.env,
		obs:      c.obs,
		state:    StateReseeding,
	}
	child.attach(journal)
	if err := child.reseed(ctx, set, "branch"); err != nil {
		journal.Discard()
		_ = c.env.tree.MarkAbandoned(childID)
		return nil, err
	}
	child.state = StatePaused

	c.env.register(child)
	c.logger.Info("branch created",
		zap.Stringer("child_id", childID),
		zap.Uint64("sequence", uint64(seq)),
		zap.String("label", label))
	return child, nil
}

// RetryCapture checkpoints the tail event again after a capture failure.
// A branch degraded by a rejected event can only be reverted.
func (c *Controller) RetryCapture(ctx context.Context) (types.CheckpointSet, error) {
	if err := c.beginOp("retry capture", true); err != nil {
		return types.CheckpointSet{}, err
	}
	defer c.opMu.Unlock()

	if c.Degraded() && !c.journal.Degraded() {
		return types.CheckpointSet{}, types.Errorf(types.ErrInvalidState,
			"branch %s: last delivery was rejected; revert to sequence %d to realign the agents",
			c.branch, c.journal.CurrentSequence())
	}

	handles := c.runtime.AgentHandles()
	started := time.Now()
	set, err := c.journal.Capture(ctx, handles)
	c.obs.capture(ctx, len(handles), started, err)
	if err != nil {
		return types.CheckpointSet{}, err
	}
	c.mu.Lock()
	c.degraded = false
	c.mu.Unlock()
	c.logger.Info("capture retried", zap.Uint64("sequence", uint64(set.Sequence())))
	return set, nil
}

// =============================================================================
// Import
// =============================================================================

func (c *Controller) importLog(ctx context.Context, doc history.LogDocument) error {
	if err := c.beginOp("import log", true); err != nil {
		return err
	}
	defer c.opMu.Unlock()

	if err := c.journal.ReplaceLog(doc); err != nil {
		return err
	}
	return c.resync(ctx, "import")
}

func (c *Controller) importCheckpoints(ctx context.Context, doc history.CheckpointDocument) error {
	if err := c.beginOp("import checkpoints", true); err != nil {
		return err
	}
	defer c.opMu.Unlock()

	if err := c.journal.ReplaceCheckpoints(doc); err != nil {
		return err
	}
	return c.resync(ctx, "import")
}

// resync restores the agents to the newest checkpoint of the journal.
func (c *Controller) resync(ctx context.Context, op string) error {
	set, err := c.journal.Checkpoint(c.journal.CurrentSequence())
	if err != nil {
		return err
	}
	prev := c.State()
	c.setState(ctx, StateReseeding)
	err = c.reseed(ctx, set, op)

	c.mu.Lock()
	c.degraded = c.journal.Degraded()
	c.mu.Unlock()
	if prev == StateIdle && c.journal.Log().Len() > 0 {
		prev = StatePaused
	}
	c.setState(ctx, prev)
	return err
}
