package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/types"
)

const (
	treeFileName  = "tree.json"
	branchDirName = "branches"
)

// FileRepository stores one JSON file per branch plus tree.json under a
// directory. Every write goes to a temp file that is renamed into place.
type FileRepository struct {
	dir    string
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewFileRepository creates dir if needed.
func NewFileRepository(dir string, logger *zap.Logger) (*FileRepository, error) {
	if dir == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "file store requires a directory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(dir, branchDirName), 0o755); err != nil {
		return nil, errUnavailable("file", err)
	}
	return &FileRepository{dir: dir, logger: logger.With(zap.String("component", "file_store"))}, nil
}

func (r *FileRepository) branchPath(id types.BranchID) string {
	return filepath.Join(r.dir, branchDirName, id.String()+".json")
}

func (r *FileRepository) SaveTree(_ context.Context, tree []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeAtomic(filepath.Join(r.dir, treeFileName), tree)
}

func (r *FileRepository) LoadTree(context.Context) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, err := os.ReadFile(filepath.Join(r.dir, treeFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errTreeNotFound()
	}
	if err != nil {
		return nil, errUnavailable("file", err)
	}
	return data, nil
}

func (r *FileRepository) SaveBranch(_ context.Context, rec BranchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return types.NewError(types.ErrInternalError, "encode branch record").WithCause(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeAtomic(r.branchPath(rec.BranchID), data)
}

func (r *FileRepository) LoadBranch(_ context.Context, id types.BranchID) (BranchRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, err := os.ReadFile(r.branchPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return BranchRecord{}, errBranchNotFound(id)
	}
	if err != nil {
		return BranchRecord{}, errUnavailable("file", err)
	}
	var rec BranchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return BranchRecord{}, types.Errorf(types.ErrInvalidRequest, "corrupt branch file %s", r.branchPath(id)).WithCause(err)
	}
	return rec, nil
}

func (r *FileRepository) ListBranches(context.Context) ([]types.BranchID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *FileRepository) listLocked() ([]types.BranchID, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, branchDirName))
	if err != nil {
		return nil, errUnavailable("file", err)
	}
	ids := make([]types.BranchID, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, types.BranchID(n))
	}
	sortIDs(ids)
	return ids, nil
}

func (r *FileRepository) DeleteAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, err := r.listLocked()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := os.Remove(r.branchPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errUnavailable("file", err)
		}
	}
	if err := os.Remove(filepath.Join(r.dir, treeFileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errUnavailable("file", err)
	}
	r.logger.Debug("snapshots removed", zap.Int("branches", len(ids)))
	return nil
}

func (r *FileRepository) Ping(context.Context) error {
	info, err := os.Stat(r.dir)
	if err != nil {
		return errUnavailable("file", err)
	}
	if !info.IsDir() {
		return errUnavailable("file", fmt.Errorf("%s is not a directory", r.dir))
	}
	return nil
}

func (r *FileRepository) Close() error { return nil }

func (r *FileRepository) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errUnavailable("file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errUnavailable("file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errUnavailable("file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errUnavailable("file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errUnavailable("file", err)
	}
	return nil
}
