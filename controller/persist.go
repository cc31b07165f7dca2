package controller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/history"
	"github.com/BaSui01/agentrewind/persistence"
	"github.com/BaSui01/agentrewind/types"
)

// Save writes the whole universe to repo: every branch record, then the
// tree. No branch may be running.
func (m *Manager) Save(ctx context.Context, repo persistence.Repository) error {
	m.mu.RLock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		controllers = append(controllers, c)
	}
	m.mu.RUnlock()

	for _, c := range controllers {
		if c.State() == StateRunning {
			return types.Errorf(types.ErrInvalidState, "branch %s is running; pause it before saving", c.branch)
		}
	}

	if err := repo.DeleteAll(ctx); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, c := range controllers {
		logBlob, err := c.journal.ExportLog()
		if err != nil {
			return err
		}
		cpBlob, err := c.journal.ExportCheckpoints()
		if err != nil {
			return err
		}
		rec := persistence.BranchRecord{BranchID: c.branch, Log: logBlob, Checkpoints: cpBlob, UpdatedAt: now}
		if err := repo.SaveBranch(ctx, rec); err != nil {
			return err
		}
	}

	tree, err := m.ExportTree()
	if err != nil {
		return err
	}
	if err := repo.SaveTree(ctx, tree); err != nil {
		return err
	}
	m.logger.Info("universe saved", zap.Int("branches", len(controllers)))
	return nil
}

// Load rebuilds the universe stored in repo into this empty manager. Each
// branch gets a fresh runtime restored to its newest checkpoint.
func (m *Manager) Load(ctx context.Context, repo persistence.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.controllers) > 0 || m.env.tree.Len() > 0 {
		return types.NewError(types.ErrInvalidState, "load requires an empty manager")
	}

	treeBlob, err := repo.LoadTree(ctx)
	if err != nil {
		return err
	}
	tree, err := history.DecodeTree(treeBlob)
	if err != nil {
		return err
	}
	index := history.NewIndex()
	env := *m.env
	env.tree = tree
	env.index = index

	loaded := make(map[types.BranchID]*Controller)
	for _, node := range tree.Snapshot().Nodes {
		if node.Abandoned {
			continue
		}
		c, err := m.loadBranch(ctx, &env, repo, node)
		if err != nil {
			return err
		}
		loaded[node.ID] = c
	}

	// Swap only after every branch loaded.
	*m.env = env
	for id, c := range loaded {
		c.env = m.env
		m.controllers[id] = c
	}
	m.env.obs.branches(len(m.controllers))
	m.logger.Info("universe loaded", zap.Int("branches", len(loaded)))
	return nil
}

func (m *Manager) loadBranch(ctx context.Context, e *env, repo persistence.Repository, node history.BranchNode) (*Controller, error) {
	rec, err := repo.LoadBranch(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	logDoc, err := history.DecodeLog(rec.Log)
	if err != nil {
		return nil, err
	}
	cpDoc, err := history.DecodeCheckpoints(rec.Checkpoints)
	if err != nil {
		return nil, err
	}
	if logDoc.BranchID != node.ID || logDoc.Root != node.ForkSequence {
		return nil, types.Errorf(types.ErrInvalidRequest,
			"stored branch %s (root %d) does not match tree node %s (fork %d)",
			logDoc.BranchID, logDoc.Root, node.ID, node.ForkSequence)
	}
	j, err := history.ImportJournal(e.index, logDoc, cpDoc, e.opts...)
	if err != nil {
		return nil, err
	}

	rt, err := e.factory.NewRuntime(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build runtime").WithCause(err)
	}
	state := StatePaused
	if j.Log().Len() == 0 {
		state = StateIdle
	}
	c, err := newController(ctx, e, j, rt, state)
	if err != nil {
		return nil, err
	}
	set, err := j.Checkpoint(j.CurrentSequence())
	if err != nil {
		return nil, err
	}
	if err := c.reseed(ctx, set, "load"); err != nil {
		return nil, err
	}
	return c, nil
}
