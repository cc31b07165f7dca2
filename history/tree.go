package history

import (
	"sync"
	"time"

	"github.com/BaSui01/agentrewind/types"
)

// BranchNode is one branch in the tree. Parent is nil for the root.
type BranchNode struct {
	ID           types.BranchID  `json:"id"`
	Parent       *types.BranchID `json:"parent"`
	ForkSequence types.Sequence  `json:"fork_sequence"`
	Label        string          `json:"label"`
	CreatedAt    time.Time       `json:"created_at"`
	Abandoned    bool            `json:"abandoned,omitempty"`
}

// TreeSnapshot is a point-in-time copy of the tree.
type TreeSnapshot struct {
	Root  types.BranchID `json:"root"`
	Nodes []BranchNode   `json:"nodes"`
}

// Tree is an arena of branch nodes indexed by BranchID. Nodes are never
// deleted.
type Tree struct {
	mu       sync.RWMutex
	nodes    []BranchNode
	children [][]types.BranchID
	now      func() time.Time
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{now: func() time.Time { return time.Now().UTC() }}
}

// CreateRoot adds the initial branch.
func (t *Tree) CreateRoot(label string) (types.BranchID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.nodes) > 0 {
		return 0, types.NewError(types.ErrInvalidState, "tree already has a root")
	}
	return t.add(nil, 0, label), nil
}

// CreateChild adds a branch forked from parent at forkSeq.
func (t *Tree) CreateChild(parent types.BranchID, forkSeq types.Sequence, label string) (types.BranchID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(parent); err != nil {
		return 0, err
	}
	p := parent
	return t.add(&p, forkSeq, label), nil
}

func (t *Tree) add(parent *types.BranchID, forkSeq types.Sequence, label string) types.BranchID {
	id := types.BranchID(len(t.nodes))
	t.nodes = append(t.nodes, BranchNode{
		ID:           id,
		Parent:       parent,
		ForkSequence: forkSeq,
		Label:        label,
		CreatedAt:    t.now(),
	})
	t.children = append(t.children, nil)
	if parent != nil {
		t.children[*parent] = append(t.children[*parent], id)
	}
	return id
}

func (t *Tree) check(id types.BranchID) error {
	if uint64(id) >= uint64(len(t.nodes)) {
		return types.Errorf(types.ErrBranchNotFound, "branch %s does not exist", id)
	}
	return nil
}

// Node returns a copy of the node for id.
func (t *Tree) Node(id types.BranchID) (BranchNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check(id); err != nil {
		return BranchNode{}, err
	}
	return copyNode(t.nodes[id]), nil
}

// Ancestors returns the path from the root to id, both included.
func (t *Tree) Ancestors(id types.BranchID) ([]types.BranchID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check(id); err != nil {
		return nil, err
	}
	var path []types.BranchID
	for cur := &id; cur != nil; cur = t.nodes[*cur].Parent {
		path = append(path, *cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Children returns the direct children of id in creation order.
func (t *Tree) Children(id types.BranchID) ([]types.BranchID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check(id); err != nil {
		return nil, err
	}
	return append([]types.BranchID{}, t.children[id]...), nil
}

// MarkAbandoned flags a branch whose creation could not complete.
func (t *Tree) MarkAbandoned(id types.BranchID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(id); err != nil {
		return err
	}
	t.nodes[id].Abandoned = true
	return nil
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Snapshot copies the whole tree.
func (t *Tree) Snapshot() TreeSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := TreeSnapshot{Nodes: make([]BranchNode, len(t.nodes))}
	for i, n := range t.nodes {
		snap.Nodes[i] = copyNode(n)
	}
	return snap
}

// NewTreeFromSnapshot rebuilds a tree. Node ids must be dense from 0, the
// root first, and every parent must precede its children.
func NewTreeFromSnapshot(snap TreeSnapshot) (*Tree, error) {
	t := NewTree()
	for i, n := range snap.Nodes {
		if n.ID != types.BranchID(i) {
			return nil, types.Errorf(types.ErrInvalidRequest, "node %d at position %d: ids must be dense", n.ID, i)
		}
		switch {
		case i == 0 && n.Parent != nil:
			return nil, types.NewError(types.ErrInvalidRequest, "root node must not have a parent")
		case i > 0 && n.Parent == nil:
			return nil, types.Errorf(types.ErrInvalidRequest, "node %d has no parent", n.ID)
		case i > 0 && *n.Parent >= n.ID:
			return nil, types.Errorf(types.ErrInvalidRequest, "node %d references later parent %d", n.ID, *n.Parent)
		}
		node := copyNode(n)
		t.nodes = append(t.nodes, node)
		t.children = append(t.children, nil)
		if node.Parent != nil {
			t.children[*node.Parent] = append(t.children[*node.Parent], node.ID)
		}
	}
	return t, nil
}

func copyNode(n BranchNode) BranchNode {
	if n.Parent != nil {
		p := *n.Parent
		n.Parent = &p
	}
	return n
}
