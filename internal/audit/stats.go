package audit

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

// Stats exposes the store's audit aggregates to the control-plane RPC
// tools, transparently serving from the Redis cache when one is attached.
type Stats struct {
	store store.Store
	cache *Cache
}

// NewStats wires a Stats reader over store, optionally backed by cache.
// cache may be nil, in which case every call reads through to store.
func NewStats(s store.Store, cache *Cache) *Stats {
	return &Stats{store: s, cache: cache}
}

func (s *Stats) ToolCallStats(ctx context.Context, filter store.AuditFilter) ([]store.ToolCallStat, error) {
	if s.cache != nil {
		if cached, ok := s.cache.getToolCallStats(ctx, filter); ok {
			return cached, nil
		}
	}
	stats, err := s.store.ToolCallStats(ctx, filter)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.setToolCallStats(ctx, filter, stats)
	}
	return stats, nil
}

func (s *Stats) ServerStats(ctx context.Context, filter store.AuditFilter) ([]store.ServerStat, error) {
	return s.store.ServerStats(ctx, filter)
}

func (s *Stats) HourlyStats(ctx context.Context, filter store.AuditFilter) ([]store.HourlyStat, error) {
	return s.store.HourlyStats(ctx, filter)
}

func (s *Stats) RecentErrors(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	return s.store.RecentErrors(ctx, limit)
}

// CleanupOldLogs deletes audit entries older than before and, when a
// cache is attached, drops its cached aggregates since they are now stale.
func (s *Stats) CleanupOldLogs(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.store.CleanupOldLogs(ctx, before)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		s.cache.invalidateAll(ctx)
	}
	return n, nil
}
