package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/agentrewind/types"
)

// MemoryRepository keeps snapshots in process memory. Contents are lost on
// exit; it backs tests and the demo.
type MemoryRepository struct {
	mu       sync.RWMutex
	tree     []byte
	branches map[types.BranchID]BranchRecord
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{branches: make(map[types.BranchID]BranchRecord)}
}

func (r *MemoryRepository) SaveTree(_ context.Context, tree []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree = append([]byte(nil), tree...)
	return nil
}

func (r *MemoryRepository) LoadTree(context.Context) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.tree == nil {
		return nil, errTreeNotFound()
	}
	return append([]byte(nil), r.tree...), nil
}

func (r *MemoryRepository) SaveBranch(_ context.Context, rec BranchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branches[rec.BranchID] = cloneRecord(rec)
	return nil
}

func (r *MemoryRepository) LoadBranch(_ context.Context, id types.BranchID) (BranchRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.branches[id]
	if !ok {
		return BranchRecord{}, errBranchNotFound(id)
	}
	return cloneRecord(rec), nil
}

func (r *MemoryRepository) ListBranches(context.Context) ([]types.BranchID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]types.BranchID, 0, len(r.branches))
	for id := range r.branches {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids, nil
}

func (r *MemoryRepository) DeleteAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree = nil
	r.branches = make(map[types.BranchID]BranchRecord)
	return nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }

func cloneRecord(rec BranchRecord) BranchRecord {
	out := rec
	out.Log = append([]byte(nil), rec.Log...)
	out.Checkpoints = append([]byte(nil), rec.Checkpoints...)
	return out
}

func sortIDs(ids []types.BranchID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
