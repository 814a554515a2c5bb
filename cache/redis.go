package cache

import (
	"context"
	"fmt"
	"time"

	"dndj/config"
	"dndj/logger"

	"github.com/go-redis/redis/v8"
)

const (
	// RedisInventoryKey is the set holding the identifiers of cached assets.
	RedisInventoryKey = "dndj:cache:ids"
	// RedisEventsChannel carries every outbound observer message.
	RedisEventsChannel = "dndj:events"

	redisOpTimeout = 5 * time.Second
)

// ConnectRedis opens a client and checks it with a ping.
func ConnectRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// TestRedis round-trips a throwaway key.
func TestRedis(ctx context.Context, client *redis.Client) error {
	const key, want = "dndj:test_key", "Redis connection successful!"

	if err := client.Set(ctx, key, want, 5*time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set Redis key: %w", err)
	}
	val, err := client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to get Redis key: %w", err)
	}
	if val != want {
		return fmt.Errorf("unexpected value from Redis: got %s", val)
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete Redis key: %w", err)
	}
	return nil
}

// RedisMirror mirrors cache membership into a Redis set and relays observer
// messages on a pub/sub channel, so other processes can follow the session.
// Failures are logged and never reach the caller.
type RedisMirror struct {
	client *redis.Client
}

func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

// Sync replaces the mirrored set with ids.
func (m *RedisMirror) Sync(ctx context.Context, ids []string) error {
	pipe := m.client.TxPipeline()
	pipe.Del(ctx, RedisInventoryKey)
	if len(ids) > 0 {
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		pipe.SAdd(ctx, RedisInventoryKey, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sync redis inventory: %w", err)
	}
	return nil
}

// Members returns the mirrored identifiers.
func (m *RedisMirror) Members(ctx context.Context) ([]string, error) {
	ids, err := m.client.SMembers(ctx, RedisInventoryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read redis inventory: %w", err)
	}
	return ids, nil
}

// OnAdd is called with the cache lock held, so the write happens off the
// caller's goroutine.
func (m *RedisMirror) OnAdd(id string) {
	go m.do("sadd", id, func(ctx context.Context) error {
		return m.client.SAdd(ctx, RedisInventoryKey, id).Err()
	})
}

func (m *RedisMirror) OnRemove(id string) {
	go m.do("srem", id, func(ctx context.Context) error {
		return m.client.SRem(ctx, RedisInventoryKey, id).Err()
	})
}

// Relay publishes an encoded observer message.
func (m *RedisMirror) Relay(payload []byte) {
	m.do("publish", RedisEventsChannel, func(ctx context.Context) error {
		return m.client.Publish(ctx, RedisEventsChannel, payload).Err()
	})
}

func (m *RedisMirror) do(op, target string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("redis mirror failed",
			logger.String("op", op),
			logger.String("target", target),
			logger.ErrorField(err))
	}
}
