package tracker

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// DefaultRecentCapacity bounds the local recency set.
const DefaultRecentCapacity = 200

// DefaultDedupTTL is how long a shared dedup key lives.
const DefaultDedupTTL = 24 * time.Hour

// Deduper remembers which run observations have already been handled.
type Deduper interface {
	// MarkSeen records key and reports whether it had already been recorded.
	// The check and the write are a single atomic step.
	MarkSeen(ctx context.Context, key string) (seen bool, err error)
}

// Key identifies one observation of a run. A run is handled once while
// pending and once on completion; a later rerun of the same id that
// completes again is not handled a second time.
func Key(run types.RunSummary) string {
	phase := "pending"
	if run.Status == types.RunCompleted {
		phase = "completed"
	}
	return run.ID + ":" + phase
}

// LocalDeduper is a process-local recency set. Once full, the oldest key is
// evicted first; a lookup does not refresh a key's position.
type LocalDeduper struct {
	recent *lru.Cache[string, struct{}]
}

// NewLocalDeduper creates a recency set holding up to capacity keys.
func NewLocalDeduper(capacity int) (*LocalDeduper, error) {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating recency set: %w", err)
	}
	return &LocalDeduper{recent: cache}, nil
}

// MarkSeen implements Deduper.
func (d *LocalDeduper) MarkSeen(_ context.Context, key string) (bool, error) {
	seen, _ := d.recent.ContainsOrAdd(key, struct{}{})
	return seen, nil
}

// Len returns the number of remembered keys.
func (d *LocalDeduper) Len() int { return d.recent.Len() }

// RedisDeduper shares the recency set between tracker replicas using
// SET NX with an expiry.
type RedisDeduper struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper connects to the configured Redis/Valkey server.
func NewRedisDeduper(cfg *types.RedisConfig, ttl time.Duration) *RedisDeduper {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisDeduperFromClient(client, cfg.KeyPrefix, ttl)
}

// NewRedisDeduperFromClient wraps an existing client (useful for testing).
func NewRedisDeduperFromClient(client *goredis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	if prefix == "" {
		prefix = "pipemedic:"
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

// MarkSeen implements Deduper.
func (d *RedisDeduper) MarkSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+"seen:"+key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup %s: %w", key, err)
	}
	return !ok, nil
}

// Ping checks connectivity to the Redis server.
func (d *RedisDeduper) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}
