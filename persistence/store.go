package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/agentrewind/types"
)

// BranchRecord is the persisted form of one branch: its exported log and
// checkpoints exactly as history encodes them.
type BranchRecord struct {
	BranchID    types.BranchID  `json:"branch_id" bson:"branch_id"`
	Log         json.RawMessage `json:"log" bson:"log"`
	Checkpoints json.RawMessage `json:"checkpoints" bson:"checkpoints"`
	UpdatedAt   time.Time       `json:"updated_at" bson:"updated_at"`
}

// Repository stores a whole branch universe: one tree document plus one
// record per branch.
type Repository interface {
	// SaveTree replaces the stored tree document.
	SaveTree(ctx context.Context, tree []byte) error
	// LoadTree returns the stored tree, or an error coded SNAPSHOT_NOT_FOUND.
	LoadTree(ctx context.Context) ([]byte, error)
	// SaveBranch upserts one branch record.
	SaveBranch(ctx context.Context, rec BranchRecord) error
	// LoadBranch returns one branch, or an error coded SNAPSHOT_NOT_FOUND.
	LoadBranch(ctx context.Context, id types.BranchID) (BranchRecord, error)
	// ListBranches returns the stored branch ids in ascending order.
	ListBranches(ctx context.Context) ([]types.BranchID, error)
	// DeleteAll removes the tree and every branch.
	DeleteAll(ctx context.Context) error
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

func errTreeNotFound() error {
	return types.NewError(types.ErrSnapshotNotFound, "no tree snapshot stored")
}

func errBranchNotFound(id types.BranchID) error {
	return types.Errorf(types.ErrSnapshotNotFound, "no snapshot stored for branch %s", id)
}

func errUnavailable(backend string, err error) error {
	return types.Errorf(types.ErrStoreUnavailable, "%s snapshot store unavailable", backend).
		WithCause(err).
		WithRetryable(true)
}
