package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []FileEvent
}

func (r *eventRecorder) record(evt FileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) ops() []FileOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FileOp, len(r.events))
	for i, e := range r.events {
		out[i] = e.Op
	}
	return out
}

func newFastWatcher(t *testing.T, paths ...string) *FileWatcher {
	t.Helper()
	w, err := NewFileWatcher(paths,
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond),
		WithWatcherLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestNewFileWatcher_ResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.yaml")
	require.NoError(t, os.WriteFile(f, []byte("a: 1"), 0o644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)
	assert.Equal(t, []string{f}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, time.Second, w.pollInterval)
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)

	_, err = NewFileWatcher([]string{filepath.Join(dir, "missing.yaml")})
	assert.NoError(t, err, "missing files are watched for creation")
}

func TestFileWatcher_StartTwice(t *testing.T) {
	w := newFastWatcher(t, filepath.Join(t.TempDir(), "x.yaml"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(ctx))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
}

func TestFileWatcher_DetectsLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.yaml")
	w := newFastWatcher(t, path)
	rec := &eventRecorder{}
	w.OnChange(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("v: 1"), 0o644))
	require.Eventually(t, func() bool { return len(rec.ops()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, FileOpCreate, rec.ops()[0])

	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))
	require.Eventually(t, func() bool { return len(rec.ops()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, FileOpWrite, rec.ops()[1])

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return len(rec.ops()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, FileOpRemove, rec.ops()[2])
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}
