package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/clipvault/internal/models"
	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/redis/go-redis/v9"
)

const recordKeyPrefix = "media:token:"

type RedisConfig struct {
	Addr     string
	DB       int
	Password string
	TTL      time.Duration
}

// RedisRecordCache caches placed records. A placed record's storage path
// never changes, so entries only expire to bound memory.
type RedisRecordCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRecordCache(cfg RedisConfig) *RedisRecordCache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &RedisRecordCache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			DB:       cfg.DB,
			Password: cfg.Password,
		}),
		ttl: cfg.TTL,
	}
}

var _ ports.RecordCache = (*RedisRecordCache)(nil)

func (c *RedisRecordCache) Get(ctx context.Context, token string) (*models.MediaRecord, error) {
	b, err := c.rdb.Get(ctx, recordKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec models.MediaRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode cached record: %w", err)
	}
	if !rec.Placed() {
		return nil, nil
	}
	return &rec, nil
}

func (c *RedisRecordCache) Set(ctx context.Context, rec *models.MediaRecord) error {
	if !rec.Placed() {
		return nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return c.rdb.Set(ctx, recordKeyPrefix+rec.PublicToken, b, c.ttl).Err()
}

func (c *RedisRecordCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisRecordCache) Close() error {
	return c.rdb.Close()
}

// NoopRecordCache is used when no cache is configured.
type NoopRecordCache struct{}

func (NoopRecordCache) Get(context.Context, string) (*models.MediaRecord, error) { return nil, nil }

func (NoopRecordCache) Set(context.Context, *models.MediaRecord) error { return nil }
