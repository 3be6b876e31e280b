// Package lock serializes sync runs across service instances
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/usecase"
	"github.com/servevlc/platform/shared/common"
)

const keyPrefix = "servevlc:lock:"

// releaseScript deletes the key only while it still holds our token
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker holds named leases in Redis with SET NX PX
type RedisLocker struct {
	client client
	logger *logging.Logger
}

// NewRedisClient creates a client from the common Redis settings and pings it
func NewRedisClient(ctx context.Context, cfg common.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr(),
		Password:   cfg.Password,
		DB:         cfg.Database,
		MaxRetries: cfg.MaxRetries,
		PoolSize:   cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// NewRedisLocker creates a new RedisLocker
func NewRedisLocker(c client, logger *logging.Logger) *RedisLocker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RedisLocker{client: c, logger: logger}
}

// Acquire takes the lease or returns usecase.ErrLocked when another holder
// has it. The lease expires after ttl if never released.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, common.ErrExternalService("redis", err)
	}
	if !ok {
		return nil, usecase.ErrLocked
	}

	l.logger.Debug("Lock acquired", zap.String("key", key), zap.Duration("ttl", ttl))

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			n, evalErr := l.client.Eval(ctx, releaseScript, []string{key}, token).Int64()
			if evalErr != nil {
				err = common.ErrExternalService("redis", evalErr)
				return
			}
			if n == 0 {
				l.logger.Warn("Lock expired before release", zap.String("key", key))
			}
		})
		return err
	}
	return release, nil
}

// LocalLocker serializes runs inside one process
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLocalLocker creates a new LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

// Acquire takes the named lease or returns usecase.ErrLocked
func (l *LocalLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expires, ok := l.held[name]; ok && (ttl <= 0 || now.Before(expires)) {
		return nil, usecase.ErrLocked
	}
	expires := now.Add(ttl)
	l.held[name] = expires

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[name] == expires {
				delete(l.held, name)
			}
		})
		return nil
	}, nil
}
