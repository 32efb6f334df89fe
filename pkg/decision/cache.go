package decision

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chronomed-ai/cdss/pkg/common/logger"
	"github.com/chronomed-ai/cdss/pkg/inference"
	"github.com/chronomed-ai/cdss/pkg/observability/metrics"
)

// StateCache keeps recently computed patient state snapshots in Redis.
// A nil client disables the cache; every lookup is then a miss and every
// store a no-op, so callers never branch on availability.
type StateCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStateCache(client *redis.Client, ttl time.Duration) *StateCache {
	return &StateCache{client: client, ttl: ttl}
}

func (c *StateCache) key(patient string, at time.Time) string {
	return "cdss:states:" + strings.ToLower(strings.TrimSpace(patient)) + ":" + at.UTC().Format(time.RFC3339)
}

func (c *StateCache) Get(ctx context.Context, patient string, at time.Time) ([]inference.Result, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, c.key(patient, at)).Bytes()
	if err != nil {
		metrics.IncCacheMisses()
		return nil, false
	}
	var results []inference.Result
	if err := json.Unmarshal(payload, &results); err != nil {
		metrics.IncCacheMisses()
		return nil, false
	}
	metrics.IncCacheHits()
	return results, true
}

func (c *StateCache) Set(ctx context.Context, patient string, at time.Time, results []inference.Result) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(patient, at), payload, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).Warn("failed to cache patient states")
	}
}

// Invalidate drops every cached snapshot for a patient. Called on each
// mutation so stale classifications never outlive a correction.
func (c *StateCache) Invalidate(ctx context.Context, patient string) {
	if c == nil || c.client == nil {
		return
	}
	pattern := "cdss:states:" + strings.ToLower(strings.TrimSpace(patient)) + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Log.WithError(err).Warn("state cache scan failed")
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			logger.Log.WithError(err).Warn("state cache invalidation failed")
		}
	}
}
