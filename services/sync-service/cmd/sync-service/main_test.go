package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/servevlc/platform/pkg/circuitbreaker"
	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/config"
	"github.com/servevlc/platform/services/sync-service/infrastructure/database/memory"
	"github.com/servevlc/platform/services/sync-service/usecase"
	"github.com/servevlc/platform/shared/common"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Service: common.ServiceConfig{Name: serviceName, Environment: "test"},
		Server:  common.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Logging: common.LoggingConfig{Level: "error", Format: "json", Output: "stdout"},
		Metrics: common.MetricsConfig{Enabled: true, Path: "/metrics", Namespace: "servevlc_test"},
		Stores:  config.StoresConfig{Local: config.StoreMemory, Remote: config.StoreMemory},
		Sync:    config.SyncConfig{Workers: 2, EqualityShortCircuit: true, LockTTL: time.Minute},
	}
}

func TestMemoryStoresOpen(t *testing.T) {
	ctx := context.Background()
	logger := logging.Wrap(zaptest.NewLogger(t))
	cfg := memoryConfig()

	local, err := openLocalStores(ctx, cfg, logger)
	require.NoError(t, err)
	assert.NotNil(t, local.references)
	assert.NotNil(t, local.snapshots)

	remote, err := openRemoteStores(ctx, cfg, circuitbreaker.NewManager(nil, nil), logger)
	require.NoError(t, err)
	assert.NotNil(t, remote.snapshots)

	cfg.Stores.Local = "sqlite"
	_, err = openLocalStores(ctx, cfg, logger)
	assert.Error(t, err)
}

func TestRunOnceOnEmptyStores(t *testing.T) {
	app := &Application{config: memoryConfig()}
	require.NoError(t, app.Initialize(context.Background()))
	defer app.Shutdown()

	assert.Equal(t, 0, app.RunOnce(context.Background()))

	result := app.orchestrator.Run(context.Background(), usecase.OpSnapshot)
	assert.Equal(t, usecase.StatusSuccess, result.Status)
}

func initializedApp(t *testing.T) (*Application, *memory.RemoteStore) {
	app := &Application{config: memoryConfig()}
	require.NoError(t, app.Initialize(context.Background()))
	t.Cleanup(app.Shutdown)

	store, ok := app.remote.snapshots.(*memory.RemoteStore)
	require.True(t, ok)
	return app, store
}

func TestScheduleRunsOnTickAndStopsWithContext(t *testing.T) {
	app, store := initializedApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time)
	done := make(chan struct{})
	go func() {
		defer close(done)
		app.schedule(ctx, ticks)
	}()

	ticks <- time.Now()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("schedule did not stop after cancellation")
	}

	_, writes := store.Snapshot()
	assert.Equal(t, 1, writes)
}

func TestScheduleReturnsOnCancelledContext(t *testing.T) {
	app, store := initializedApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	app.schedule(ctx, make(chan time.Time))

	_, writes := store.Snapshot()
	assert.Zero(t, writes)
}

func TestScheduledRunCompletesAfterCancellation(t *testing.T) {
	app, store := initializedApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	app.runScheduled(ctx)

	snapshot, writes := store.Snapshot()
	assert.Equal(t, 1, writes)
	assert.NotNil(t, snapshot)
}
