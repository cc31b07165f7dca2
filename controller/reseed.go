package controller

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/runtime"
	"github.com/BaSui01/agentrewind/types"
)

// captureBaseline records the state every agent of a fresh runtime starts
// with. Agents absent from a CheckpointSet are reset to it.
func captureBaseline(ctx context.Context, rt runtime.Runtime) (map[string][]byte, error) {
	handles := rt.AgentHandles()
	baseline := make(map[string][]byte, len(handles))
	for _, h := range handles {
		blob, err := h.SerializeState(ctx)
		if err != nil {
			return nil, types.NewError(types.ErrInternalError,
				fmt.Sprintf("capture initial state of agent %s", h.ID())).WithCause(err)
		}
		baseline[h.ID()] = blob
	}
	return baseline, nil
}

// reseed restores every agent from set, all or nothing. The current state of
// each agent is snapshotted first; when a restore fails the agents already
// touched are put back and a *types.AgentRestoreError is returned.
func (c *Controller) reseed(ctx context.Context, set types.CheckpointSet, op string) error {
	handles := c.runtime.AgentHandles()

	previous := make([][]byte, len(handles))
	for i, h := range handles {
		blob, err := h.SerializeState(ctx)
		if err != nil {
			c.obs.reseedFailed(op)
			return &types.AgentRestoreError{
				AgentID:  h.ID(),
				Sequence: set.Sequence(),
				Cause:    fmt.Errorf("snapshot before restore: %w", err),
			}
		}
		previous[i] = blob
	}

	known := make(map[string]bool, len(handles))
	for i, h := range handles {
		known[h.ID()] = true
		blob, ok := set.Blob(h.ID())
		if !ok {
			blob, ok = c.baseline[h.ID()]
		}
		if !ok {
			continue
		}
		if err := h.RestoreState(ctx, blob); err != nil {
			c.obs.reseedFailed(op)
			rbErr := rollback(ctx, handles[:i+1], previous)
			c.logger.Error("agent restore failed",
				zap.String("operation", op),
				zap.String("agent_id", h.ID()),
				zap.Uint64("sequence", uint64(set.Sequence())),
				zap.Bool("rolled_back", rbErr == nil),
				zap.Error(err))
			return &types.AgentRestoreError{
				AgentID:     h.ID(),
				Sequence:    set.Sequence(),
				Cause:       err,
				RollbackErr: rbErr,
			}
		}
	}

	for _, id := range set.AgentIDs() {
		if !known[id] {
			c.logger.Warn("checkpoint holds state for an agent the runtime does not have",
				zap.String("agent_id", id),
				zap.Uint64("sequence", uint64(set.Sequence())))
		}
	}
	return nil
}

func rollback(ctx context.Context, handles []runtime.AgentHandle, previous [][]byte) error {
	var errs []error
	for i, h := range handles {
		if err := h.RestoreState(ctx, previous[i]); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", h.ID(), err))
		}
	}
	return errors.Join(errs...)
}
