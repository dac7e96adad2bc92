package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"

	"github.com/SplitFi/go-barter/env"
)

// CacheConfig selects a redis database and key namespace
type CacheConfig struct {
	database  int
	keyPrefix string
}

var (
	SignerLockCache = CacheConfig{database: 0, keyPrefix: "signer"}
	AuthNonceCache  = CacheConfig{database: 1, keyPrefix: "nonce"}
)

// ErrKeyNotFound is returned when a key is not set
var ErrKeyNotFound = errors.New("key not found")

// ErrLockNotObtained is returned when a lock is held elsewhere for longer than the retry window
var ErrLockNotObtained = errors.New("lock not obtained")

// Cache is a namespaced redis client
type Cache struct {
	client    *redis.Client
	keyPrefix string
}

// NewCache connects to REDIS_URL using the database of config
func NewCache(config CacheConfig) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     env.GetString("REDIS_URL"),
		Password: env.GetString("REDIS_PASS"),
		DB:       config.database,
	})
	return &Cache{client: client, keyPrefix: config.keyPrefix}
}

func (c *Cache) key(k string) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, k)
}

// Set stores value under key for ttl
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// Get returns the value stored under key
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	return b, err
}

// Take returns the value stored under key and deletes it
func (c *Cache) Take(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.GetDel(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	return b, err
}

// Close closes the underlying client
func (c *Cache) Close() error {
	return c.client.Close()
}

// LockClient obtains locks shared by every process using the same redis
type LockClient struct {
	cache  *Cache
	locker *redislock.Client
}

// NewLockClient creates a lock client on top of cache
func NewLockClient(cache *Cache) *LockClient {
	return &LockClient{cache: cache, locker: redislock.New(cache.client)}
}

// Lock blocks until key is obtained or ctx is done. The lock expires after ttl if never released.
func (l *LockClient) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, l.cache.key(key), ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(250 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
