package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentrewind/persistence"
	"github.com/BaSui01/agentrewind/testutil"
	"github.com/BaSui01/agentrewind/testutil/mocks"
	"github.com/BaSui01/agentrewind/types"
)

func TestManager_SaveAndLoad(t *testing.T) {
	repos := map[string]func(t *testing.T) persistence.Repository{
		"memory": func(*testing.T) persistence.Repository { return persistence.NewMemoryRepository() },
		"file": func(t *testing.T) persistence.Repository {
			repo, err := persistence.NewFileRepository(t.TempDir(), zaptest.NewLogger(t))
			require.NoError(t, err)
			return repo
		},
	}
	for name, newRepo := range repos {
		t.Run(name, func(t *testing.T) {
			src, _ := runScript(t)
			ctx := testutil.TestContext(t)
			require.NoError(t, src.Revert(ctx, 0, 3))
			child, err := src.Branch(ctx, 0, 2, "alt")
			require.NoError(t, err)

			repo := newRepo(t)
			require.NoError(t, src.Save(ctx, repo))
			ids, err := repo.ListBranches(ctx)
			require.NoError(t, err)
			assert.Equal(t, []types.BranchID{0, child}, ids)

			factory, built := mocks.MockFactory(script, "alice", "bob")
			dst := newManager(t, factory)
			require.NoError(t, dst.Load(ctx, repo))

			assert.Equal(t, src.Branches(), dst.Branches())
			srcTree, dstTree := src.Tree(), dst.Tree()
			require.Len(t, dstTree.Nodes, len(srcTree.Nodes))
			for i := range srcTree.Nodes {
				assert.Equal(t, srcTree.Nodes[i].ID, dstTree.Nodes[i].ID)
				assert.Equal(t, srcTree.Nodes[i].Parent, dstTree.Nodes[i].Parent)
				assert.Equal(t, srcTree.Nodes[i].ForkSequence, dstTree.Nodes[i].ForkSequence)
				assert.Equal(t, srcTree.Nodes[i].Label, dstTree.Nodes[i].Label)
			}

			for _, id := range src.Branches() {
				want, err := src.History(id)
				require.NoError(t, err)
				got, err := dst.History(id)
				require.NoError(t, err)
				require.Len(t, got, len(want))
				for i := range want {
					assert.Equal(t, want[i].Sequence, got[i].Sequence)
					assert.Equal(t, want[i].BranchID, got[i].BranchID)
					assert.JSONEq(t, string(want[i].Payload), string(got[i].Payload))
				}

				seq, err := src.CurrentSequence(id)
				require.NoError(t, err)
				wantSet, err := src.Checkpoint(id, seq)
				require.NoError(t, err)
				gotSet, err := dst.Checkpoint(id, seq)
				require.NoError(t, err)
				assert.True(t, wantSet.Equal(gotSet), "branch %s", id)
			}
			assert.Equal(t, []string{"task:task", "m1", "m2"}, built()[0].Agent("alice").Seen())

			c, err := dst.Controller(child)
			require.NoError(t, err)
			assert.Equal(t, StatePaused, c.State())
			require.NoError(t, dst.Resume(ctx, child, nil))
			require.NoError(t, dst.Wait(ctx, child))
			events, err := dst.History(child)
			require.NoError(t, err)
			assert.Len(t, events, 5)

			err = dst.Load(ctx, repo)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))
		})
	}
}

func TestManager_LoadEmptyRepository(t *testing.T) {
	factory, _ := mocks.MockFactory(script, "alice")
	m := newManager(t, factory)

	err := m.Load(testutil.TestContext(t), persistence.NewMemoryRepository())
	assert.True(t, types.IsErrorCode(err, types.ErrSnapshotNotFound))
	assert.Empty(t, m.Branches())
}

func TestManager_SaveRejectsRunningBranch(t *testing.T) {
	gate := make(chan struct{}, 4)
	rt := mocks.NewMockRuntime(script, "alice", "bob").WithGate(gate)
	m := newManager(t, singleFactory(rt))
	ctx := testutil.TestContext(t)

	_, err := m.Start(ctx, "task")
	require.NoError(t, err)

	repo := persistence.NewMemoryRepository()
	err = m.Save(ctx, repo)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))
	_, err = repo.LoadTree(ctx)
	assert.True(t, types.IsErrorCode(err, types.ErrSnapshotNotFound))

	go func() {
		for i := 0; i < 6; i++ {
			select {
			case gate <- struct{}{}:
			case <-time.After(2 * time.Second):
				return
			}
		}
	}()
	require.NoError(t, m.Wait(ctx, 0))
	require.NoError(t, m.Save(ctx, repo))
}
