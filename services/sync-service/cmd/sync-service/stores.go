package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/circuitbreaker"
	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/config"
	"github.com/servevlc/platform/services/sync-service/domain/repository"
	"github.com/servevlc/platform/services/sync-service/infrastructure/database/memory"
	"github.com/servevlc/platform/services/sync-service/infrastructure/database/postgres"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote/firestore"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote/mongodb"
)

// localStores is the local side selected by stores.local
type localStores struct {
	accounts        repository.AccountStore
	accountHistory  repository.AccountHistoryStore
	workItems       repository.WorkItemStore
	workItemHistory repository.WorkItemHistoryStore
	references      repository.ReferenceStore
	snapshots       repository.SnapshotSource
	close           func()
}

// remoteStores is the remote side selected by stores.remote
type remoteStores struct {
	accounts        repository.AccountStore
	accountHistory  repository.AccountHistoryStore
	workItems       repository.WorkItemStore
	workItemHistory repository.WorkItemHistoryStore
	snapshots       repository.SnapshotSink
	close           func(ctx context.Context)
}

func openLocalStores(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*localStores, error) {
	switch cfg.Stores.Local {
	case config.StoreMemory:
		logger.Warn("Using the in-memory local store; data is lost on exit")
		s := memory.NewLocalStore()
		return &localStores{
			accounts:        s.Accounts(),
			accountHistory:  s.AccountHistory(),
			workItems:       s.WorkItems(),
			workItemHistory: s.WorkItemHistory(),
			references:      s,
			snapshots:       s,
			close:           func() {},
		}, nil

	case config.StorePostgres:
		db, err := postgres.Connect(ctx, cfg.Database.PostgreSQL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.PostgreSQL.MigrateOnStart {
			if err := postgres.Migrate(db, logger); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		logger.Info("Connected to PostgreSQL",
			zap.String("host", cfg.Database.PostgreSQL.Host),
			zap.String("database", cfg.Database.PostgreSQL.Database))

		s := postgres.NewStore(db)
		return &localStores{
			accounts:        s.Accounts(),
			accountHistory:  s.AccountHistory(),
			workItems:       s.WorkItems(),
			workItemHistory: s.WorkItemHistory(),
			references:      s,
			snapshots:       s,
			close:           func() { _ = s.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown local store %q", cfg.Stores.Local)
	}
}

func openRemoteStores(ctx context.Context, cfg *config.Config, breakers *circuitbreaker.Manager, logger *logging.Logger) (*remoteStores, error) {
	guardCfg := remote.GuardConfig{RequestsPerSecond: cfg.Sync.RemoteRPS, Burst: cfg.Sync.RemoteBurst}

	switch cfg.Stores.Remote {
	case config.StoreMemory:
		logger.Warn("Using the in-memory remote store; data is lost on exit")
		s := memory.NewRemoteStore()
		return &remoteStores{
			accounts:        s.Accounts(),
			accountHistory:  s.AccountHistory(),
			workItems:       s.WorkItems(),
			workItemHistory: s.WorkItemHistory(),
			snapshots:       s,
			close:           func(context.Context) {},
		}, nil

	case config.StoreFirestore:
		guard := remote.NewGuard("firestore", breakers.GetOrCreate("firestore"), guardCfg)
		s, err := firestore.NewStore(ctx, firestore.Config{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
			CredentialsJSON: cfg.Firebase.CredentialsJSON,
		}, guard, logger)
		if err != nil {
			return nil, err
		}
		return &remoteStores{
			accounts:        s.Accounts(),
			accountHistory:  s.AccountHistory(),
			workItems:       s.WorkItems(),
			workItemHistory: s.WorkItemHistory(),
			snapshots:       s,
			close:           func(context.Context) { _ = s.Close() },
		}, nil

	case config.StoreMongoDB:
		guard := remote.NewGuard("mongodb", breakers.GetOrCreate("mongodb"), guardCfg)
		s, err := mongodb.NewStore(ctx, cfg.Database.MongoDB, guard, logger)
		if err != nil {
			return nil, err
		}
		return &remoteStores{
			accounts:        s.Accounts(),
			accountHistory:  s.AccountHistory(),
			workItems:       s.WorkItems(),
			workItemHistory: s.WorkItemHistory(),
			snapshots:       s,
			close:           func(ctx context.Context) { _ = s.Close(ctx) },
		}, nil

	default:
		return nil, fmt.Errorf("unknown remote store %q", cfg.Stores.Remote)
	}
}
