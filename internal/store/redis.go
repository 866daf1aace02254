package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 3 * time.Second

// RedisProvider keeps each tab in one Redis hash whose TTL is refreshed on
// every write and Touch. The TTL only matters when the process dies before the
// registry clears the tab.
type RedisProvider struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisProvider connects to addr and verifies the connection.
func NewRedisProvider(ctx context.Context, addr, password string, ttl time.Duration) (*RedisProvider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisProvider{client: client, ttl: ttl}, nil
}

// Open returns the backend for tabID.
func (p *RedisProvider) Open(tabID string) (Backend, error) {
	return &redisBackend{client: p.client, key: "jarvis:tab:" + tabID, ttl: p.ttl}, nil
}

// Close releases the connection pool.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

type redisBackend struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func (b *redisBackend) Read(field string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	v, err := b.client.HGet(ctx, b.key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (b *redisBackend) Write(field string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.key, field, value)
	if b.ttl > 0 {
		pipe.Expire(ctx, b.key, b.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (b *redisBackend) Touch() error {
	if b.ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return b.client.Expire(ctx, b.key, b.ttl).Err()
}

func (b *redisBackend) Delete(field string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return b.client.HDel(ctx, b.key, field).Err()
}

func (b *redisBackend) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return b.client.Del(ctx, b.key).Err()
}

func (b *redisBackend) Usage() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	all, err := b.client.HGetAll(ctx, b.key).Result()
	if err != nil {
		return 0, err
	}
	var n int64
	for k, v := range all {
		n += int64(len(k) + len(v))
	}
	return n, nil
}
