package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/servevlc/platform/shared/common"
)

// Store variants selected at startup
const (
	StorePostgres  = "postgres"
	StoreMemory    = "memory"
	StoreFirestore = "firestore"
	StoreMongoDB   = "mongodb"
)

// Config represents the sync-service configuration
type Config struct {
	Service      common.ServiceConfig      `mapstructure:"service"`
	Server       common.ServerConfig       `mapstructure:"server"`
	Database     common.DatabaseConfig     `mapstructure:"database"`
	Cache        common.CacheConfig        `mapstructure:"cache"`
	MessageQueue common.MessageQueueConfig `mapstructure:"messagequeue"`
	Logging      common.LoggingConfig      `mapstructure:"logging"`
	Metrics      common.MetricsConfig      `mapstructure:"metrics"`
	Security     common.SecurityConfig     `mapstructure:"security"`

	Firebase FirebaseConfig `mapstructure:"firebase"`
	Stores   StoresConfig   `mapstructure:"stores"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// FirebaseConfig locates the Firebase project of the remote store
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
}

// StoresConfig picks the local and remote store variants
type StoresConfig struct {
	Local  string `mapstructure:"local"`
	Remote string `mapstructure:"remote"`
}

// SyncConfig tunes the reconciliation run
type SyncConfig struct {
	Workers              int           `mapstructure:"workers"`
	EqualityShortCircuit bool          `mapstructure:"equality_short_circuit"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
	RemoteRPS            float64       `mapstructure:"remote_rps"`
	RemoteBurst          int           `mapstructure:"remote_burst"`
	Breaker              BreakerConfig `mapstructure:"breaker"`
	Schedule             time.Duration `mapstructure:"schedule"`
}

// BreakerConfig configures the breaker guarding the remote store
type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// LoadConfig reads path (optional), then SYNC_* environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	common.BindCommonEnv(v)
	_ = v.BindEnv("firebase.project_id", "FIREBASE_PROJECT_ID")
	_ = v.BindEnv("firebase.credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/sync-service")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	common.SetCommonDefaults(v, "sync-service")

	v.SetDefault("stores.local", StorePostgres)
	v.SetDefault("stores.remote", StoreFirestore)

	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.equality_short_circuit", true)
	v.SetDefault("sync.lock_ttl", "10m")
	v.SetDefault("sync.remote_rps", 50)
	v.SetDefault("sync.remote_burst", 10)
	v.SetDefault("sync.breaker.failure_threshold", 5)
	v.SetDefault("sync.breaker.timeout", "30s")
	v.SetDefault("sync.schedule", "0s")

	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.credentials_file", "")
	v.SetDefault("firebase.credentials_json", "")
}

// Validate checks that the selected variants are fully configured
func (c *Config) Validate() error {
	var errs common.ValidationErrors

	switch c.Stores.Local {
	case StorePostgres:
		if c.Database.PostgreSQL.Host == "" {
			errs.Add("database.postgresql.host", "is required", nil)
		}
		if c.Database.PostgreSQL.Database == "" {
			errs.Add("database.postgresql.database", "is required", nil)
		}
	case StoreMemory:
	default:
		errs.Add("stores.local", "must be postgres or memory", c.Stores.Local)
	}

	switch c.Stores.Remote {
	case StoreFirestore:
		if c.Firebase.ProjectID == "" {
			errs.Add("firebase.project_id", "is required", nil)
		}
	case StoreMongoDB:
		if c.Database.MongoDB.URI == "" {
			errs.Add("database.mongodb.uri", "is required", nil)
		}
		if c.Database.MongoDB.Database == "" {
			errs.Add("database.mongodb.database", "is required", nil)
		}
	case StoreMemory:
	default:
		errs.Add("stores.remote", "must be firestore, mongodb or memory", c.Stores.Remote)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs.Add("server.port", "must be between 1 and 65535", c.Server.Port)
	}
	if c.Sync.Workers < 1 {
		errs.Add("sync.workers", "must be at least 1", c.Sync.Workers)
	}
	if c.Sync.LockTTL <= 0 {
		errs.Add("sync.lock_ttl", "must be positive", c.Sync.LockTTL)
	}
	if c.Sync.RemoteRPS < 0 {
		errs.Add("sync.remote_rps", "must not be negative", c.Sync.RemoteRPS)
	}
	if c.Sync.Schedule < 0 {
		errs.Add("sync.schedule", "must not be negative", c.Sync.Schedule)
	}
	if c.Security.JWT.Enabled && c.Security.JWT.Secret == "" {
		errs.Add("security.jwt.secret", "is required when JWT is enabled", nil)
	}
	if c.MessageQueue.Kafka.Enabled && len(c.MessageQueue.Kafka.Brokers) == 0 {
		errs.Add("messagequeue.kafka.brokers", "is required when Kafka is enabled", nil)
	}
	switch c.MessageQueue.Kafka.Encoding {
	case "", "json", "msgpack":
	default:
		errs.Add("messagequeue.kafka.encoding", "must be json or msgpack", c.MessageQueue.Kafka.Encoding)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
