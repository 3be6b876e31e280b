package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servevlc/platform/shared/common"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
firebase:
  project_id: servevlc-dev
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sync-service", cfg.Service.Name)
	assert.Equal(t, StorePostgres, cfg.Stores.Local)
	assert.Equal(t, StoreFirestore, cfg.Stores.Remote)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.True(t, cfg.Sync.EqualityShortCircuit)
	assert.Equal(t, 10*time.Minute, cfg.Sync.LockTTL)
	assert.Equal(t, 30*time.Second, cfg.Sync.Breaker.Timeout)
	assert.Equal(t, uint32(5), cfg.Sync.Breaker.FailureThreshold)
	assert.Equal(t, time.Duration(0), cfg.Sync.Schedule)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "servevlc-dev", cfg.Firebase.ProjectID)
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
stores:
  local: memory
  remote: mongodb
sync:
  workers: 8
  equality_short_circuit: false
database:
  mongodb:
    uri: mongodb://mongo:27017
    database: servevlc
`)
	t.Setenv("SYNC_SYNC_WORKERS", "2")
	t.Setenv("SYNC_SERVER_PORT", "9090")
	t.Setenv("MONGODB_DATABASE", "servevlc_test")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Stores.Local)
	assert.Equal(t, StoreMongoDB, cfg.Stores.Remote)
	assert.Equal(t, 2, cfg.Sync.Workers)
	assert.False(t, cfg.Sync.EqualityShortCircuit)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "servevlc_test", cfg.Database.MongoDB.Database)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Server: common.ServerConfig{Port: 8080},
		Stores: StoresConfig{Local: StoreMemory, Remote: StoreMemory},
		Sync:   SyncConfig{Workers: 1, LockTTL: time.Minute},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(c *Config){
		"stores.local":        func(c *Config) { c.Stores.Local = "sqlite" },
		"stores.remote":       func(c *Config) { c.Stores.Remote = "dynamo" },
		"firebase.project_id": func(c *Config) { c.Stores.Remote = StoreFirestore },
		"database.mongodb.uri": func(c *Config) {
			c.Stores.Remote = StoreMongoDB
			c.Database.MongoDB.Database = "servevlc"
		},
		"database.postgresql.host": func(c *Config) {
			c.Stores.Local = StorePostgres
			c.Database.PostgreSQL.Database = "servevlc"
		},
		"server.port":         func(c *Config) { c.Server.Port = 0 },
		"sync.workers":        func(c *Config) { c.Sync.Workers = 0 },
		"sync.lock_ttl":       func(c *Config) { c.Sync.LockTTL = 0 },
		"security.jwt.secret": func(c *Config) { c.Security.JWT.Enabled = true },
		"messagequeue.kafka.brokers": func(c *Config) {
			c.MessageQueue.Kafka.Enabled = true
		},
		"messagequeue.kafka.encoding": func(c *Config) {
			c.MessageQueue.Kafka.Encoding = "avro"
		},
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			c := validConfig()
			mutate(c)
			err := c.Validate()
			require.Error(t, err)

			var verrs common.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, field, verrs[0].Field)
		})
	}
}
