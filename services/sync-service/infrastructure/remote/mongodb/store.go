// Package mongodb implements the remote stores on MongoDB. Identities live
// in their own collection with bcrypt-hashed credentials.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote/schema"
	"github.com/servevlc/platform/shared/common"
)

const serviceName = "mongodb"

var (
	accountHistoryCollection  = schema.AccountsCollection + "_" + schema.HistoryCollection
	workItemHistoryCollection = schema.WorkItemsCollection + "_" + schema.HistoryCollection
)

// Store owns the MongoDB client shared by every adapter
type Store struct {
	client   *mongo.Client
	database *mongo.Database
	guard    *remote.Guard
	logger   *logging.Logger
}

// NewStore connects, pings the primary and ensures indexes
func NewStore(ctx context.Context, cfg common.MongoDBConfig, guard *remote.Guard, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	clientOpts.SetMinPoolSize(cfg.MinPoolSize)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.Username != "" {
		clientOpts.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{
		client:   client,
		database: client.Database(cfg.Database),
		guard:    guard,
		logger:   logger.WithFields(zap.String("store", serviceName)),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	s.logger.Info("MongoDB store initialized", zap.String("database", cfg.Database))
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		schema.IdentitiesCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		accountHistoryCollection: {
			{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "date", Value: 1}}},
		},
		workItemHistoryCollection: {
			{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "date", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.database.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
	}
	return nil
}

// Close disconnects the client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Accounts returns the account adapter
func (s *Store) Accounts() *AccountRepository { return &AccountRepository{store: s} }

// AccountHistory returns the account history adapter
func (s *Store) AccountHistory() *AccountHistoryRepository {
	return &AccountHistoryRepository{store: s}
}

// WorkItems returns the work item adapter
func (s *Store) WorkItems() *WorkItemRepository { return &WorkItemRepository{store: s} }

// WorkItemHistory returns the work item history adapter
func (s *Store) WorkItemHistory() *WorkItemHistoryRepository {
	return &WorkItemHistoryRepository{store: s}
}

// PublishSnapshot replaces the dashboard document
func (s *Store) PublishSnapshot(ctx context.Context, snapshot *entity.Snapshot) error {
	doc := bson.M(schema.SnapshotToMap(snapshot))
	doc["_id"] = entity.SnapshotDocumentID
	return s.do(ctx, func(ctx context.Context) error {
		_, err := s.database.Collection(schema.DashboardCollection).ReplaceOne(ctx,
			bson.M{"_id": entity.SnapshotDocumentID}, doc, options.Replace().SetUpsert(true))
		return wrap(err, "publish dashboard snapshot")
	})
}

func (s *Store) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.guard == nil {
		return fn(ctx)
	}
	return s.guard.Do(ctx, fn)
}

// replace upserts doc under id
func (s *Store) replace(ctx context.Context, collection, id string, doc interface{}) error {
	_, err := s.database.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

// findAll decodes every document matching filter
func findAll[D any](ctx context.Context, coll *mongo.Collection, filter interface{}, opts ...*options.FindOptions) ([]D, error) {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	var out []D
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	if common.GetAppError(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return common.WrapError(err, common.ErrCodeNotFound, op+": document not found")
	case mongo.IsDuplicateKeyError(err):
		return common.WrapError(err, common.ErrCodeConflict, op+": duplicate key")
	default:
		return common.ErrExternalService(serviceName, fmt.Errorf("%s: %w", op, err))
	}
}
