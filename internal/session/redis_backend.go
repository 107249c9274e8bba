package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// RedisBackend is an optional pass-through persistence layer for the
// Session Store, generalizing the donor gateway's redisclient.Client
// (previously a thin Ping-only wrapper) into a real backing store that
// saves full SessionRecord snapshots keyed by session-key with a TTL.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend parses a redis:// URL and returns a connected backend.
func NewRedisBackend(redisURL string, ttl time.Duration) (*RedisBackend, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	b := &RedisBackend{client: redis.NewClient(opt), ttl: ttl}
	if err := b.Ping(context.Background()); err != nil {
		_ = b.client.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	return b, nil
}

// Ping verifies connectivity, matching the donor client's startup check.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

func redisKey(key gatewaytypes.SessionKey) string {
	return "gateway:session:" + string(key)
}

// Save persists a session snapshot with the configured TTL.
func (b *RedisBackend) Save(ctx context.Context, rec *gatewaytypes.SessionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	return b.client.Set(ctx, redisKey(rec.Key), payload, b.ttl).Err()
}

// Load reads a session snapshot back from Redis, if present.
func (b *RedisBackend) Load(ctx context.Context, key gatewaytypes.SessionKey) (*gatewaytypes.SessionRecord, error) {
	payload, err := b.client.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}
	var rec gatewaytypes.SessionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	return &rec, nil
}
