// Package storetest provides an in-memory store.Store for tests that need
// scheduler persistence without a database file.
package storetest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

// MemStore implements store.Store with plain maps behind one mutex. Claim
// semantics match the SQL implementation: due rows are selected NULLs
// first, then by NextRunAt ascending, and each claimed row's NextRunAt is
// pushed forward by the claim horizon before the call returns.
type MemStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]store.Job
	runs    []store.Run
	entries []store.AuditEntry

	// FailClaims makes ClaimDueJobs return ErrClaimFailed, for tests of
	// the tick loop's store-error path. FailAudit does the same for
	// RecordAuditEntry, for tests of the audit log's best-effort writes.
	FailClaims bool
	FailAudit  bool
}

// ErrClaimFailed is returned by ClaimDueJobs when FailClaims is set.
var ErrClaimFailed = errors.New("storetest: claim failed")

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{jobs: make(map[uuid.UUID]store.Job)}
}

func (m *MemStore) ListJobs(ctx context.Context) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (m *MemStore) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return &j, nil
}

func (m *MemStore) UpsertJob(ctx context.Context, job store.Job) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.IntervalSeconds < 5 {
		job.IntervalSeconds = 5
	}
	job.Label = strings.TrimSpace(job.Label)
	if job.Label == "" {
		job.Label = "Untitled"
	}
	if job.ArgsJSON == "" {
		job.ArgsJSON = "{}"
	}

	now := time.Now().UTC()
	if job.ID == uuid.Nil {
		job.ID = store.GenNewID()
		job.CreatedAt = now
		if job.NextRunAt == nil {
			first := now.Add(time.Duration(job.IntervalSeconds) * time.Second)
			job.NextRunAt = &first
		}
	} else if existing, ok := m.jobs[job.ID]; ok {
		job.CreatedAt = existing.CreatedAt
		if existing.NextRunAt != nil {
			job.NextRunAt = existing.NextRunAt
		}
	} else {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	m.jobs[job.ID] = job
	return &job, nil
}

func (m *MemStore) DeleteJob(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return false, nil
	}
	delete(m.jobs, id)
	return true, nil
}

func (m *MemStore) ClaimDueJobs(ctx context.Context, limit int, claimHorizon time.Duration) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailClaims {
		return nil, ErrClaimFailed
	}
	if limit <= 0 {
		limit = 20
	}

	now := time.Now().UTC()
	var due []store.Job
	for _, j := range m.jobs {
		if !j.Enabled {
			continue
		}
		if j.NextRunAt == nil || !j.NextRunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		a, b := due[i].NextRunAt, due[k].NextRunAt
		if a == nil {
			return true
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimUntil := now.Add(claimHorizon)
	for i := range due {
		j := m.jobs[due[i].ID]
		j.NextRunAt = &claimUntil
		m.jobs[j.ID] = j
		due[i].NextRunAt = &claimUntil
	}
	return due, nil
}

func (m *MemStore) SetNextRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	j.NextRunAt = &at
	j.UpdatedAt = time.Now().UTC()
	m.jobs[id] = j
	return nil
}

func (m *MemStore) RecordRun(ctx context.Context, run store.Run) (store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = store.GenNewID()
	}
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *MemStore) ListRuns(ctx context.Context, jobID *uuid.UUID, limit int) ([]store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []store.Run
	for _, r := range m.runs {
		if jobID != nil && r.JobID != *jobID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) RecordAuditEntry(ctx context.Context, entry store.AuditEntry) (store.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAudit {
		return store.AuditEntry{}, errors.New("storetest: audit write failed")
	}
	if entry.ID == uuid.Nil {
		entry.ID = store.GenNewID()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = entry.StartedAt
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *MemStore) ListAuditEntries(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []store.AuditEntry
	for _, e := range m.entries {
		if filter.Server != "" && e.Server != filter.Server {
			continue
		}
		if filter.Tool != "" && e.Tool != filter.Tool {
			continue
		}
		if !filter.Since.IsZero() && e.StartedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.StartedAt.After(filter.Until) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) ToolCallStats(ctx context.Context, filter store.AuditFilter) ([]store.ToolCallStat, error) {
	entries, err := m.ListAuditEntries(ctx, store.AuditFilter{Server: filter.Server, Tool: filter.Tool, Since: filter.Since, Until: filter.Until, Limit: len(m.entries) + 1})
	if err != nil {
		return nil, err
	}
	type key struct{ server, tool string }
	agg := map[key]*store.ToolCallStat{}
	totalMS := map[key]int64{}
	for _, e := range entries {
		k := key{e.Server, e.Tool}
		st, ok := agg[k]
		if !ok {
			st = &store.ToolCallStat{Server: e.Server, Tool: e.Tool}
			agg[k] = st
		}
		st.Calls++
		if e.OK {
			st.OKCount++
		}
		totalMS[k] += e.DurationMS
	}
	out := make([]store.ToolCallStat, 0, len(agg))
	for k, st := range agg {
		if st.Calls > 0 {
			st.AvgMS = float64(totalMS[k]) / float64(st.Calls)
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Calls > out[k].Calls })
	return out, nil
}

func (m *MemStore) ServerStats(ctx context.Context, filter store.AuditFilter) ([]store.ServerStat, error) {
	stats, err := m.ToolCallStats(ctx, filter)
	if err != nil {
		return nil, err
	}
	agg := map[string]*store.ServerStat{}
	for _, st := range stats {
		s, ok := agg[st.Server]
		if !ok {
			s = &store.ServerStat{Server: st.Server}
			agg[st.Server] = s
		}
		s.Calls += st.Calls
		s.OKCount += st.OKCount
	}
	out := make([]store.ServerStat, 0, len(agg))
	for _, s := range agg {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Calls > out[k].Calls })
	return out, nil
}

func (m *MemStore) HourlyStats(ctx context.Context, filter store.AuditFilter) ([]store.HourlyStat, error) {
	entries, err := m.ListAuditEntries(ctx, store.AuditFilter{Since: filter.Since, Until: filter.Until, Limit: len(m.entries) + 1})
	if err != nil {
		return nil, err
	}
	agg := map[time.Time]*store.HourlyStat{}
	for _, e := range entries {
		hour := e.StartedAt.Truncate(time.Hour)
		st, ok := agg[hour]
		if !ok {
			st = &store.HourlyStat{HourStart: hour}
			agg[hour] = st
		}
		st.Calls++
		if e.OK {
			st.OKCount++
		}
	}
	out := make([]store.HourlyStat, 0, len(agg))
	for _, st := range agg {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].HourStart.Before(out[k].HourStart) })
	return out, nil
}

func (m *MemStore) RecentErrors(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []store.AuditEntry
	for _, e := range m.entries {
		if !e.OK {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) CleanupOldLogs(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []store.AuditEntry
	var removed int64
	for _, e := range m.entries {
		if e.StartedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

func (m *MemStore) Close() error { return nil }
