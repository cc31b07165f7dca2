package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/types"
)

// MongoConfig addresses the database holding the snapshot collections.
type MongoConfig struct {
	URI            string        `yaml:"uri" json:"uri" env:"URI"`
	Database       string        `yaml:"database" json:"database" env:"DATABASE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// DefaultMongoConfig returns local defaults.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "agentrewind",
		ConnectTimeout: 5 * time.Second,
	}
}

const (
	treeCollection   = "history_trees"
	branchCollection = "branch_snapshots"
)

type mongoTree struct {
	ID        string    `bson:"_id"`
	Document  []byte    `bson:"document"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type mongoBranch struct {
	ID          int64     `bson:"_id"`
	Log         []byte    `bson:"log"`
	Checkpoints []byte    `bson:"checkpoints"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toMongoBranch(rec BranchRecord) mongoBranch {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return mongoBranch{
		ID:          int64(rec.BranchID),
		Log:         rec.Log,
		Checkpoints: rec.Checkpoints,
		UpdatedAt:   updated,
	}
}

func (b mongoBranch) record() BranchRecord {
	return BranchRecord{
		BranchID:    types.BranchID(b.ID),
		Log:         b.Log,
		Checkpoints: b.Checkpoints,
		UpdatedAt:   b.UpdatedAt,
	}
}

// MongoRepository stores the tree in one document and each branch in its
// own document keyed by branch id.
type MongoRepository struct {
	client   *mongo.Client
	trees    *mongo.Collection
	branches *mongo.Collection
	timeout  time.Duration
	logger   *zap.Logger
}

// NewMongoRepository connects and pings the server.
func NewMongoRepository(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoRepository, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "mongo store requires uri and database")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultMongoConfig().ConnectTimeout
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, errUnavailable("mongo", err)
	}
	r := &MongoRepository{
		client:   client,
		trees:    client.Database(cfg.Database).Collection(treeCollection),
		branches: client.Database(cfg.Database).Collection(branchCollection),
		timeout:  cfg.ConnectTimeout,
		logger:   logger.With(zap.String("component", "mongo_store")),
	}
	if err := r.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	r.logger.Info("mongo snapshot store connected", zap.String("database", cfg.Database))
	return r, nil
}

func (r *MongoRepository) SaveTree(ctx context.Context, tree []byte) error {
	doc := mongoTree{ID: treeRowID, Document: tree, UpdatedAt: time.Now().UTC()}
	_, err := r.trees.ReplaceOne(ctx, bson.D{{Key: "_id", Value: treeRowID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return errUnavailable("mongo", err)
	}
	return nil
}

func (r *MongoRepository) LoadTree(ctx context.Context) ([]byte, error) {
	var doc mongoTree
	err := r.trees.FindOne(ctx, bson.D{{Key: "_id", Value: treeRowID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errTreeNotFound()
	}
	if err != nil {
		return nil, errUnavailable("mongo", err)
	}
	return doc.Document, nil
}

func (r *MongoRepository) SaveBranch(ctx context.Context, rec BranchRecord) error {
	doc := toMongoBranch(rec)
	_, err := r.branches.ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return errUnavailable("mongo", err)
	}
	return nil
}

func (r *MongoRepository) LoadBranch(ctx context.Context, id types.BranchID) (BranchRecord, error) {
	var doc mongoBranch
	err := r.branches.FindOne(ctx, bson.D{{Key: "_id", Value: int64(id)}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return BranchRecord{}, errBranchNotFound(id)
	}
	if err != nil {
		return BranchRecord{}, errUnavailable("mongo", err)
	}
	return doc.record(), nil
}

func (r *MongoRepository) ListBranches(ctx context.Context) ([]types.BranchID, error) {
	cursor, err := r.branches.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errUnavailable("mongo", err)
	}
	var docs []struct {
		ID int64 `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errUnavailable("mongo", err)
	}
	ids := make([]types.BranchID, len(docs))
	for i, d := range docs {
		ids[i] = types.BranchID(d.ID)
	}
	return ids, nil
}

func (r *MongoRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.branches.DeleteMany(ctx, bson.D{}); err != nil {
		return errUnavailable("mongo", err)
	}
	if _, err := r.trees.DeleteMany(ctx, bson.D{}); err != nil {
		return errUnavailable("mongo", err)
	}
	return nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Ping(ctx, readpref.Primary()); err != nil {
		return errUnavailable("mongo", fmt.Errorf("ping: %w", err))
	}
	return nil
}

func (r *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.client.Disconnect(ctx)
}
