// Package cache keeps short-lived copies of related records and stored
// overrides in Redis. Every read failure, malformed payloads included, is a
// miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"contractflow/api/internal/logging"
	"contractflow/api/internal/resolve"
	"contractflow/api/internal/store"
)

const (
	recordPrefix   = "record:"
	overridePrefix = "override:"
)

// RedisCache is a read-through cache for resolution records and a read
// cache for override records.
type RedisCache struct {
	client      *redis.Client
	recordTTL   time.Duration
	overrideTTL time.Duration
	log         logging.Logger
}

// New connects to redisURL and checks the connection.
func New(redisURL string, recordTTL time.Duration, log logging.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, recordTTL, log), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, recordTTL time.Duration, log logging.Logger) *RedisCache {
	if recordTTL <= 0 {
		recordTTL = time.Minute
	}
	if log == nil {
		log = logging.Nop()
	}
	return &RedisCache{
		client:      client,
		recordTTL:   recordTTL,
		overrideTTL: 10 * recordTTL,
		log:         log,
	}
}

func recordKey(c resolve.Collection, key string) string {
	return recordPrefix + string(c) + ":" + key
}

func overrideKey(collaborationKey string) string {
	return overridePrefix + collaborationKey
}

// GetRecord implements resolve.RecordCache.
func (c *RedisCache) GetRecord(ctx context.Context, collection resolve.Collection, key string) (resolve.Record, bool) {
	var record resolve.Record
	if !c.getJSON(ctx, recordKey(collection, key), &record) || record == nil {
		return nil, false
	}
	return record, true
}

// SetRecord implements resolve.RecordCache.
func (c *RedisCache) SetRecord(ctx context.Context, collection resolve.Collection, key string, record resolve.Record) {
	c.setJSON(ctx, recordKey(collection, key), record, c.recordTTL)
}

type cachedOverride struct {
	CollaborationKey string             `json:"collaboration_key"`
	CampaignKey      string             `json:"campaign_key"`
	InfluencerKey    string             `json:"influencer_key"`
	ContractKey      string             `json:"contract_key"`
	Variables        map[string]*string `json:"variables"`
	RenderedHTML     string             `json:"rendered_html"`
	ShareToken       string             `json:"share_token"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func (c *RedisCache) GetOverride(ctx context.Context, collaborationKey string) (store.OverrideRecord, bool) {
	var item cachedOverride
	if !c.getJSON(ctx, overrideKey(collaborationKey), &item) || item.ShareToken == "" {
		return store.OverrideRecord{}, false
	}
	return store.OverrideRecord(item), true
}

func (c *RedisCache) SetOverride(ctx context.Context, rec store.OverrideRecord) {
	c.setJSON(ctx, overrideKey(rec.CollaborationKey), cachedOverride(rec), c.overrideTTL)
}

func (c *RedisCache) InvalidateOverride(ctx context.Context, collaborationKey string) {
	if err := c.client.Del(ctx, overrideKey(collaborationKey)).Err(); err != nil {
		c.log.Warn(ctx, "cache invalidate failed", "key", overrideKey(collaborationKey), "error", err)
	}
}

func (c *RedisCache) getJSON(ctx context.Context, key string, dst any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.log.Warn(ctx, "cache read failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn(ctx, "cache entry malformed", "key", key, "error", err)
		_ = c.client.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *RedisCache) setJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn(ctx, "cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache write failed", "key", key, "error", err)
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
