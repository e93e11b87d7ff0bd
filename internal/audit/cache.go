package audit

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

// cacheTTL bounds how long an aggregate stats query is served from Redis
// before falling back to the store again; short enough that an operator
// polling a dashboard never sees data more than a few seconds stale.
const cacheTTL = 10 * time.Second

const runsChannel = "scheduler:runs"

// Cache is an optional Redis-backed read-through cache for the audit log's
// aggregate queries, plus a pub/sub channel the tick loop publishes newly
// recorded runs onto so interactive tails don't have to poll the store.
// A nil *Cache is valid everywhere it's accepted; every method on it is a
// safe no-op in that case, so callers don't need their own nil checks.
type Cache struct {
	rdb *redis.Client
}

// NewCache connects to redisURL. An empty URL disables caching entirely:
// NewCache returns nil, nil and callers pass the nil *Cache straight
// through to NewStats.
func NewCache(redisURL string) (*Cache, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Cache{rdb: redis.NewClient(opts)}, nil
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Cache) getToolCallStats(ctx context.Context, filter store.AuditFilter) ([]store.ToolCallStat, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, statsKey(filter)).Bytes()
	if err != nil {
		return nil, false
	}
	var stats []store.ToolCallStat
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, false
	}
	return stats, true
}

func (c *Cache) setToolCallStats(ctx context.Context, filter store.AuditFilter, stats []store.ToolCallStat) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, statsKey(filter), raw, cacheTTL).Err(); err != nil {
		slog.Warn("audit cache write failed", "error", err)
	}
}

// invalidateAll drops every cached aggregate. Called after a cleanup sweep,
// since counts computed before the sweep are now wrong.
func (c *Cache) invalidateAll(ctx context.Context) {
	if c == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, "audit:stats:*", 0).Iterator()
	for iter.Next(ctx) {
		c.rdb.Del(ctx, iter.Val())
	}
}

// PublishRun announces a freshly recorded run on the shared pub/sub
// channel. Best-effort: a publish failure is logged and swallowed, never
// propagated to the tick loop.
func (c *Cache) PublishRun(ctx context.Context, jobID string, ok *bool) {
	if c == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{"job_id": jobID, "ok": ok})
	if err := c.rdb.Publish(ctx, runsChannel, payload).Err(); err != nil {
		slog.Warn("audit run publish failed", "error", err)
	}
}

// Subscribe returns a subscription to the run-completion channel for
// interactive tails. Callers must close it when done.
func (c *Cache) Subscribe(ctx context.Context) *redis.PubSub {
	if c == nil {
		return nil
	}
	return c.rdb.Subscribe(ctx, runsChannel)
}

func statsKey(filter store.AuditFilter) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%d", filter.Server, filter.Tool, filter.Since.Unix(), filter.Until.Unix(), filter.Limit)
	return fmt.Sprintf("audit:stats:%x", h.Sum(nil))
}
