package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// RedisRunLocker implements RunLocker using Redis
// This is suitable for distributed deployments where multiple instances
// must agree on which tenant runs are in flight
type RedisRunLocker struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisRunLocker creates a new Redis-based run locker
func NewRedisRunLocker(cfg RedisConfig) (*RedisRunLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRunLocker{
		client:    client,
		keyPrefix: "sync:lock:",
	}, nil
}

// NewRedisRunLockerWithClient creates a locker with an existing Redis client
// This is useful for testing or when sharing a client across components
func NewRedisRunLockerWithClient(client *redis.Client, keyPrefix string) *RedisRunLocker {
	if keyPrefix == "" {
		keyPrefix = "sync:lock:"
	}
	return &RedisRunLocker{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// TryLock acquires the key if free using SETNX with a TTL so a crashed
// instance releases its locks when the lease runs out.
func (l *RedisRunLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return acquired, nil
}

// Unlock releases the key
func (l *RedisRunLocker) Unlock(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (l *RedisRunLocker) Close() error {
	return l.client.Close()
}

// Ensure RedisRunLocker implements RunLocker
var _ ledger.RunLocker = (*RedisRunLocker)(nil)
