package persistence

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/internal/cache"
	"github.com/BaSui01/agentrewind/types"
)

// RedisRepository stores the tree and each branch record under prefixed
// keys and tracks branch ids in a set. A zero ttl keeps snapshots forever.
type RedisRepository struct {
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisRepository wraps an open cache manager.
func NewRedisRepository(manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRepository{cache: manager, ttl: ttl, logger: logger.With(zap.String("component", "redis_store"))}
}

func (r *RedisRepository) treeKey() string { return r.cache.Key("tree") }

func (r *RedisRepository) indexKey() string { return r.cache.Key("branches") }

func (r *RedisRepository) branchKey(id types.BranchID) string {
	return r.cache.Key("branch", id.String())
}

func (r *RedisRepository) SaveTree(ctx context.Context, tree []byte) error {
	if err := r.cache.Set(ctx, r.treeKey(), tree, r.ttl); err != nil {
		return errUnavailable("redis", err)
	}
	return nil
}

func (r *RedisRepository) LoadTree(ctx context.Context) ([]byte, error) {
	data, err := r.cache.Get(ctx, r.treeKey())
	if cache.IsCacheMiss(err) {
		return nil, errTreeNotFound()
	}
	if err != nil {
		return nil, errUnavailable("redis", err)
	}
	return data, nil
}

func (r *RedisRepository) SaveBranch(ctx context.Context, rec BranchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return types.NewError(types.ErrInternalError, "encode branch record").WithCause(err)
	}
	err = r.cache.Tx(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.branchKey(rec.BranchID), data, r.ttl)
		pipe.SAdd(ctx, r.indexKey(), rec.BranchID.String())
		if r.ttl > 0 {
			pipe.Expire(ctx, r.indexKey(), r.ttl)
		}
		return nil
	})
	if err != nil {
		return errUnavailable("redis", err)
	}
	return nil
}

func (r *RedisRepository) LoadBranch(ctx context.Context, id types.BranchID) (BranchRecord, error) {
	data, err := r.cache.Get(ctx, r.branchKey(id))
	if cache.IsCacheMiss(err) {
		return BranchRecord{}, errBranchNotFound(id)
	}
	if err != nil {
		return BranchRecord{}, errUnavailable("redis", err)
	}
	var rec BranchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return BranchRecord{}, types.Errorf(types.ErrInvalidRequest, "corrupt record for branch %s", id).WithCause(err)
	}
	return rec, nil
}

func (r *RedisRepository) ListBranches(ctx context.Context) ([]types.BranchID, error) {
	members, err := r.cache.Members(ctx, r.indexKey())
	if err != nil {
		return nil, errUnavailable("redis", err)
	}
	ids := make([]types.BranchID, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			r.logger.Warn("ignoring malformed branch id", zap.String("member", m))
			continue
		}
		ids = append(ids, types.BranchID(n))
	}
	sortIDs(ids)
	return ids, nil
}

func (r *RedisRepository) DeleteAll(ctx context.Context) error {
	ids, err := r.ListBranches(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+2)
	keys = append(keys, r.treeKey(), r.indexKey())
	for _, id := range ids {
		keys = append(keys, r.branchKey(id))
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		return errUnavailable("redis", err)
	}
	return nil
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.cache.Ping(ctx); err != nil {
		return errUnavailable("redis", err)
	}
	return nil
}

func (r *RedisRepository) Close() error { return r.cache.Close() }
