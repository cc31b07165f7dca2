package persistence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentrewind/internal/database"
	"github.com/BaSui01/agentrewind/types"
)

const treeRowID = "current"

// branchSnapshot is one row of branch_snapshots.
type branchSnapshot struct {
	BranchID       uint64    `gorm:"column:branch_id;primaryKey;autoIncrement:false"`
	LogDoc         []byte    `gorm:"column:log_doc;not null"`
	CheckpointsDoc []byte    `gorm:"column:checkpoints_doc;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

func (branchSnapshot) TableName() string { return "branch_snapshots" }

// historyTree is the single row of history_trees.
type historyTree struct {
	ID        string    `gorm:"column:id;primaryKey;size:32"`
	Document  []byte    `gorm:"column:document;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (historyTree) TableName() string { return "history_trees" }

// SQLRepository stores snapshots in a relational database through GORM.
// The schema is owned by the migrations; AutoMigrate is for tests and
// throwaway SQLite files.
type SQLRepository struct {
	pool       *database.PoolManager
	maxRetries int
	logger     *zap.Logger
}

// SQLOption configures an SQLRepository.
type SQLOption func(*SQLRepository)

// WithTransactionRetries sets how many times a write transaction is tried.
func WithTransactionRetries(n int) SQLOption {
	return func(r *SQLRepository) { r.maxRetries = n }
}

// NewSQLRepository wraps an open pool.
func NewSQLRepository(pool *database.PoolManager, logger *zap.Logger, opts ...SQLOption) *SQLRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &SQLRepository{pool: pool, maxRetries: 3, logger: logger.With(zap.String("component", "sql_store"))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AutoMigrate creates the tables from the models.
func (r *SQLRepository) AutoMigrate(ctx context.Context) error {
	if err := r.pool.DB().WithContext(ctx).AutoMigrate(&branchSnapshot{}, &historyTree{}); err != nil {
		return errUnavailable("sql", err)
	}
	return nil
}

func (r *SQLRepository) write(ctx context.Context, fn database.TransactionFunc) error {
	if err := r.pool.WithTransactionRetry(ctx, r.maxRetries, fn); err != nil {
		return errUnavailable("sql", err)
	}
	return nil
}

func upsert(tx *gorm.DB, row any) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func (r *SQLRepository) SaveTree(ctx context.Context, tree []byte) error {
	row := historyTree{ID: treeRowID, Document: tree, UpdatedAt: time.Now().UTC()}
	return r.write(ctx, func(tx *gorm.DB) error { return upsert(tx, &row) })
}

func (r *SQLRepository) LoadTree(ctx context.Context) ([]byte, error) {
	var row historyTree
	err := r.pool.DB().WithContext(ctx).Where("id = ?", treeRowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errTreeNotFound()
	}
	if err != nil {
		return nil, errUnavailable("sql", err)
	}
	return row.Document, nil
}

func (r *SQLRepository) SaveBranch(ctx context.Context, rec BranchRecord) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	row := branchSnapshot{
		BranchID:       uint64(rec.BranchID),
		LogDoc:         rec.Log,
		CheckpointsDoc: rec.Checkpoints,
		UpdatedAt:      updated,
	}
	return r.write(ctx, func(tx *gorm.DB) error { return upsert(tx, &row) })
}

func (r *SQLRepository) LoadBranch(ctx context.Context, id types.BranchID) (BranchRecord, error) {
	var row branchSnapshot
	err := r.pool.DB().WithContext(ctx).Where("branch_id = ?", uint64(id)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BranchRecord{}, errBranchNotFound(id)
	}
	if err != nil {
		return BranchRecord{}, errUnavailable("sql", err)
	}
	return BranchRecord{
		BranchID:    types.BranchID(row.BranchID),
		Log:         row.LogDoc,
		Checkpoints: row.CheckpointsDoc,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func (r *SQLRepository) ListBranches(ctx context.Context) ([]types.BranchID, error) {
	var raw []uint64
	err := r.pool.DB().WithContext(ctx).Model(&branchSnapshot{}).Order("branch_id").Pluck("branch_id", &raw).Error
	if err != nil {
		return nil, errUnavailable("sql", err)
	}
	ids := make([]types.BranchID, len(raw))
	for i, n := range raw {
		ids[i] = types.BranchID(n)
	}
	return ids, nil
}

func (r *SQLRepository) DeleteAll(ctx context.Context) error {
	return r.write(ctx, func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&branchSnapshot{}).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&historyTree{}).Error
	})
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return errUnavailable("sql", err)
	}
	return nil
}

func (r *SQLRepository) Close() error { return r.pool.Close() }

// PoolStats exposes the connection pool counters.
func (r *SQLRepository) PoolStats() database.PoolStats { return r.pool.GetStats() }
