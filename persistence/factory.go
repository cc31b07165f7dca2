package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/internal/cache"
	"github.com/BaSui01/agentrewind/internal/database"
	"github.com/BaSui01/agentrewind/internal/metrics"
	"github.com/BaSui01/agentrewind/types"
)

// Backend names accepted by NewRepository.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
	BackendMongo  = "mongo"
)

// Config selects and configures a snapshot backend.
type Config struct {
	Type        string
	FileDir     string
	TTL         time.Duration
	AutoMigrate bool
	Redis       cache.Config
	Database    database.Config
	Mongo       MongoConfig
}

// NewRepository opens the configured backend. With a collector, every call
// is recorded as a snapshot operation and SQL pool sizes are exported.
func NewRepository(ctx context.Context, cfg Config, logger *zap.Logger, collector *metrics.Collector) (Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	repo, err := open(ctx, cfg, logger, collector)
	if err != nil {
		return nil, err
	}
	logger.Info("snapshot repository opened", zap.String("backend", cfg.Type))
	if collector == nil {
		return repo, nil
	}
	return Instrument(repo, cfg.Type, collector), nil
}

func open(ctx context.Context, cfg Config, logger *zap.Logger, collector *metrics.Collector) (Repository, error) {
	switch cfg.Type {
	case "", BackendMemory:
		return NewMemoryRepository(), nil
	case BackendFile:
		return NewFileRepository(cfg.FileDir, logger)
	case BackendRedis:
		manager, err := cache.NewManager(cfg.Redis, logger)
		if err != nil {
			return nil, errUnavailable(BackendRedis, err)
		}
		return NewRedisRepository(manager, cfg.TTL, logger), nil
	case BackendSQL:
		var opts []database.PoolOption
		if collector != nil {
			driver := cfg.Database.Driver
			opts = append(opts, database.WithStatsObserver(func(s database.PoolStats) {
				collector.RecordDBConnections(driver, s.OpenConnections, s.Idle)
			}))
		}
		pool, err := database.Open(cfg.Database, logger, opts...)
		if err != nil {
			return nil, errUnavailable(BackendSQL, err)
		}
		repo := NewSQLRepository(pool, logger)
		if cfg.AutoMigrate {
			if err := repo.AutoMigrate(ctx); err != nil {
				_ = pool.Close()
				return nil, err
			}
		}
		return repo, nil
	case BackendMongo:
		return NewMongoRepository(ctx, cfg.Mongo, logger)
	}
	return nil, types.Errorf(types.ErrInvalidRequest, "unknown snapshot store type %q", cfg.Type)
}

// =============================================================================
// Instrumentation
// =============================================================================

type instrumented struct {
	next      Repository
	backend   string
	collector *metrics.Collector
}

// Instrument records the outcome and latency of every call on next.
func Instrument(next Repository, backend string, collector *metrics.Collector) Repository {
	return &instrumented{next: next, backend: backend, collector: collector}
}

func (r *instrumented) observe(op string, started time.Time, err error) {
	r.collector.RecordSnapshotOperation(r.backend, op, err, time.Since(started))
}

func (r *instrumented) SaveTree(ctx context.Context, tree []byte) (err error) {
	defer func(start time.Time) { r.observe("save_tree", start, err) }(time.Now())
	return r.next.SaveTree(ctx, tree)
}

func (r *instrumented) LoadTree(ctx context.Context) (tree []byte, err error) {
	defer func(start time.Time) { r.observe("load_tree", start, err) }(time.Now())
	return r.next.LoadTree(ctx)
}

func (r *instrumented) SaveBranch(ctx context.Context, rec BranchRecord) (err error) {
	defer func(start time.Time) { r.observe("save_branch", start, err) }(time.Now())
	return r.next.SaveBranch(ctx, rec)
}

func (r *instrumented) LoadBranch(ctx context.Context, id types.BranchID) (rec BranchRecord, err error) {
	defer func(start time.Time) { r.observe("load_branch", start, err) }(time.Now())
	return r.next.LoadBranch(ctx, id)
}

func (r *instrumented) ListBranches(ctx context.Context) (ids []types.BranchID, err error) {
	defer func(start time.Time) { r.observe("list_branches", start, err) }(time.Now())
	return r.next.ListBranches(ctx)
}

func (r *instrumented) DeleteAll(ctx context.Context) (err error) {
	defer func(start time.Time) { r.observe("delete_all", start, err) }(time.Now())
	return r.next.DeleteAll(ctx)
}

func (r *instrumented) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { r.observe("ping", start, err) }(time.Now())
	return r.next.Ping(ctx)
}

func (r *instrumented) Close() error { return r.next.Close() }
