package history

import (
	"sort"
	"sync"

	"github.com/BaSui01/agentrewind/types"
)

// Entry is one recorded checkpoint on a branch.
type Entry struct {
	Sequence   types.Sequence
	Checkpoint types.CheckpointSet
	BranchID   types.BranchID
}

// branchIndex holds the entries of one branch. Its lock orders revert
// (write) against fork (read) on the same branch. Entries below root are
// inherited from the branch it was forked from: readable and forkable, never
// a revert target.
type branchIndex struct {
	mu      sync.RWMutex
	root    types.Sequence
	current types.Sequence
	entries map[types.Sequence]types.CheckpointSet
}

// Index maps (branch, sequence) to the CheckpointSet valid there.
type Index struct {
	mu       sync.RWMutex
	branches map[types.BranchID]*branchIndex
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{branches: make(map[types.BranchID]*branchIndex)}
}

func (x *Index) branch(id types.BranchID) (*branchIndex, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	b, ok := x.branches[id]
	if !ok {
		return nil, types.Errorf(types.ErrBranchNotFound, "branch %s is not indexed", id)
	}
	return b, nil
}

// Register creates the entry list of branch with rootSet at root.
func (x *Index) Register(branch types.BranchID, root types.Sequence, rootSet types.CheckpointSet) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, exists := x.branches[branch]; exists {
		return types.Errorf(types.ErrInvalidState, "branch %s is already indexed", branch)
	}
	x.branches[branch] = &branchIndex{
		root:    root,
		current: root,
		entries: map[types.Sequence]types.CheckpointSet{root: rootSet.WithSequence(root)},
	}
	return nil
}

// Unregister drops every entry of branch. Used when a fork is abandoned.
func (x *Index) Unregister(branch types.BranchID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.branches, branch)
}

// Record stores set as the entry for seq. Sequences only move forward.
func (x *Index) Record(branch types.BranchID, seq types.Sequence, set types.CheckpointSet) error {
	b, err := x.branch(branch)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq <= b.current {
		return types.Errorf(types.ErrInvalidState,
			"branch %s already holds a checkpoint at or after sequence %d (current %d)", branch, seq, b.current)
	}
	b.entries[seq] = set.WithSequence(seq)
	b.current = seq
	return nil
}

// Get returns the set recorded at seq on branch.
func (x *Index) Get(branch types.BranchID, seq types.Sequence) (types.CheckpointSet, error) {
	b, err := x.branch(branch)
	if err != nil {
		return types.CheckpointSet{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lookup(branch, seq)
}

// lookup finds seq among own and inherited entries.
func (b *branchIndex) lookup(branch types.BranchID, seq types.Sequence) (types.CheckpointSet, error) {
	set, ok := b.entries[seq]
	if !ok {
		return types.CheckpointSet{}, types.Errorf(types.ErrSequenceNotFound,
			"no checkpoint at sequence %d on branch %s", seq, branch)
	}
	return set, nil
}

// lookupOwn is lookup restricted to entries recorded on the branch itself.
func (b *branchIndex) lookupOwn(branch types.BranchID, seq types.Sequence) (types.CheckpointSet, error) {
	if seq < b.root {
		return types.CheckpointSet{}, types.Errorf(types.ErrSequenceNotFound,
			"sequence %d is below the root %d of branch %s", seq, b.root, branch)
	}
	return b.lookup(branch, seq)
}

// upTo copies every entry at or below at.
func (b *branchIndex) upTo(at types.Sequence) map[types.Sequence]types.CheckpointSet {
	out := make(map[types.Sequence]types.CheckpointSet)
	for seq, set := range b.entries {
		if seq <= at {
			out[seq] = set
		}
	}
	return out
}

// CurrentSequence returns the newest recorded sequence of branch.
func (x *Index) CurrentSequence(branch types.BranchID) (types.Sequence, error) {
	b, err := x.branch(branch)
	if err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current, nil
}

// Root returns the sequence branch was registered at.
func (x *Index) Root(branch types.BranchID) (types.Sequence, error) {
	b, err := x.branch(branch)
	if err != nil {
		return 0, err
	}
	return b.root, nil
}

// Revert discards every entry of branch above target and returns the set at
// target.
func (x *Index) Revert(branch types.BranchID, target types.Sequence) (types.CheckpointSet, error) {
	set, _, err := x.revert(branch, target, nil)
	return set, err
}

// revert runs onCommit under the branch write lock after the entries above
// target are removed, and hands back what was removed.
func (x *Index) revert(branch types.BranchID, target types.Sequence, onCommit func()) (types.CheckpointSet, []Entry, error) {
	b, err := x.branch(branch)
	if err != nil {
		return types.CheckpointSet{}, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	set, err := b.lookupOwn(branch, target)
	if err != nil {
		return types.CheckpointSet{}, nil, err
	}
	var dropped []Entry
	for seq, s := range b.entries {
		if seq > target {
			dropped = append(dropped, Entry{Sequence: seq, Checkpoint: s, BranchID: branch})
			delete(b.entries, seq)
		}
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].Sequence < dropped[j].Sequence })
	b.current = target
	if onCommit != nil {
		onCommit()
	}
	return set, dropped, nil
}

// reinstate puts entries removed by revert back and runs onCommit under the
// same write lock.
func (x *Index) reinstate(branch types.BranchID, dropped []Entry, current types.Sequence, onCommit func()) error {
	b, err := x.branch(branch)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range dropped {
		b.entries[e.Sequence] = e.Checkpoint
	}
	b.current = current
	if onCommit != nil {
		onCommit()
	}
	return nil
}

// Fork registers newBranch rooted at the set recorded at seq on src. The
// child inherits every source entry at or below seq, so it can itself be
// forked anywhere in its history. The source keeps every entry.
func (x *Index) Fork(src types.BranchID, at types.Sequence, newBranch types.BranchID) (types.CheckpointSet, error) {
	set, err := x.fork(src, at, newBranch, nil)
	return set, err
}

// fork runs onRead under the source read lock so the caller can copy
// whatever else must be consistent with the fork point.
func (x *Index) fork(src types.BranchID, at types.Sequence, newBranch types.BranchID, onRead func() error) (types.CheckpointSet, error) {
	b, err := x.branch(src)
	if err != nil {
		return types.CheckpointSet{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	set, err := b.lookup(src, at)
	if err != nil {
		return types.CheckpointSet{}, err
	}
	if onRead != nil {
		if err := onRead(); err != nil {
			return types.CheckpointSet{}, err
		}
	}
	inherited := b.upTo(at)

	x.mu.Lock()
	defer x.mu.Unlock()
	if _, exists := x.branches[newBranch]; exists {
		return types.CheckpointSet{}, types.Errorf(types.ErrInvalidState, "branch %s is already indexed", newBranch)
	}
	x.branches[newBranch] = &branchIndex{root: at, current: at, entries: inherited}
	return set, nil
}

// Entries returns every entry of branch in sequence order, inherited ones
// included.
func (x *Index) Entries(branch types.BranchID) ([]Entry, error) {
	b, err := x.branch(branch)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, 0, len(b.entries))
	for seq, set := range b.entries {
		out = append(out, Entry{Sequence: seq, Checkpoint: set, BranchID: branch})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// Replace swaps the entries of branch for entries, registering the branch
// when needed. entries must hold a checkpoint at root; those below root are
// kept as inherited.
func (x *Index) Replace(branch types.BranchID, root types.Sequence, entries []Entry) error {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	fresh := &branchIndex{
		root:    root,
		entries: make(map[types.Sequence]types.CheckpointSet, len(sorted)),
	}
	for i, e := range sorted {
		if i > 0 && e.Sequence == sorted[i-1].Sequence {
			return types.Errorf(types.ErrInvalidRequest, "duplicate checkpoint at sequence %d", e.Sequence)
		}
		fresh.entries[e.Sequence] = e.Checkpoint.WithSequence(e.Sequence)
		fresh.current = e.Sequence
	}
	if _, ok := fresh.entries[root]; !ok {
		return types.Errorf(types.ErrInvalidRequest, "branch %s needs a checkpoint at its root %d", branch, root)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.branches[branch] = fresh
	return nil
}

// Branches lists the indexed branches in ascending order.
func (x *Index) Branches() []types.BranchID {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]types.BranchID, 0, len(x.branches))
	for id := range x.branches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
