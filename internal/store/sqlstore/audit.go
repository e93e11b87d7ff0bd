package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

func (s *SQLStore) RecordAuditEntry(ctx context.Context, entry store.AuditEntry) (store.AuditEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = store.GenNewID()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = nowUTC()
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = entry.StartedAt
	}
	if entry.Source == "" {
		entry.Source = "unknown"
	}
	q := s.db.Rebind(`INSERT INTO audit_entries
		(id, server, tool, args_json, ok, result_preview, error, error_type, duration_ms, source, request_id, session_id, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		entry.ID, entry.Server, entry.Tool, jsonOrEmpty(entry.ArgsJSON), entry.OK,
		entry.ResultPreview, entry.Error, entry.ErrorType, entry.DurationMS, entry.Source,
		entry.RequestID, entry.SessionID, entry.StartedAt, entry.FinishedAt)
	if err != nil {
		return store.AuditEntry{}, fmt.Errorf("record audit entry: %w", err)
	}
	return entry, nil
}

func (s *SQLStore) ListAuditEntries(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, error) {
	where, args := auditWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT id, server, tool, args_json, ok, result_preview, error, error_type, duration_ms, source, request_id, session_id, started_at, finished_at
		FROM audit_entries %s ORDER BY started_at DESC LIMIT ?`, where)
	args = append(args, limit)

	var entries []store.AuditEntry
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) ToolCallStats(ctx context.Context, filter store.AuditFilter) ([]store.ToolCallStat, error) {
	where, args := auditWhere(filter)
	q := fmt.Sprintf(`SELECT server, tool, COUNT(*) AS calls,
		SUM(CASE WHEN ok THEN 1 ELSE 0 END) AS ok_count,
		AVG(duration_ms) AS avg_duration_ms
		FROM audit_entries %s GROUP BY server, tool ORDER BY calls DESC`, where)

	var stats []store.ToolCallStat
	if err := s.db.SelectContext(ctx, &stats, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("tool call stats: %w", err)
	}
	return stats, nil
}

func (s *SQLStore) ServerStats(ctx context.Context, filter store.AuditFilter) ([]store.ServerStat, error) {
	where, args := auditWhere(filter)
	q := fmt.Sprintf(`SELECT server, COUNT(*) AS calls,
		SUM(CASE WHEN ok THEN 1 ELSE 0 END) AS ok_count
		FROM audit_entries %s GROUP BY server ORDER BY calls DESC`, where)

	var stats []store.ServerStat
	if err := s.db.SelectContext(ctx, &stats, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("server stats: %w", err)
	}
	return stats, nil
}

func (s *SQLStore) HourlyStats(ctx context.Context, filter store.AuditFilter) ([]store.HourlyStat, error) {
	where, args := auditWhere(filter)

	// Buckets are computed as epoch seconds so the same scan works on
	// both engines; they convert back to instants below. SQLite parses only
	// the leading "YYYY-MM-DD HH:MM:SS" of the stored UTC text, since the
	// driver appends a zone suffix that strftime does not accept.
	var bucketExpr string
	switch s.engine {
	case EnginePostgres:
		bucketExpr = "(floor(extract(epoch FROM started_at) / 3600) * 3600)::bigint"
	default:
		bucketExpr = "(CAST(strftime('%s', substr(started_at, 1, 19)) AS INTEGER) / 3600) * 3600"
	}

	q := fmt.Sprintf(`SELECT %s AS hour_epoch, COUNT(*) AS calls,
		SUM(CASE WHEN ok THEN 1 ELSE 0 END) AS ok_count
		FROM audit_entries %s GROUP BY hour_epoch ORDER BY hour_epoch ASC`, bucketExpr, where)

	var rows []struct {
		HourEpoch int64 `db:"hour_epoch"`
		Calls     int64 `db:"calls"`
		OKCount   int64 `db:"ok_count"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("hourly stats: %w", err)
	}

	stats := make([]store.HourlyStat, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, store.HourlyStat{
			HourStart: time.Unix(r.HourEpoch, 0).UTC(),
			Calls:     r.Calls,
			OKCount:   r.OKCount,
		})
	}
	return stats, nil
}

func (s *SQLStore) RecentErrors(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.db.Rebind(`SELECT id, server, tool, args_json, ok, result_preview, error, error_type, duration_ms, source, request_id, session_id, started_at, finished_at
		FROM audit_entries WHERE ok = ? ORDER BY started_at DESC LIMIT ?`)

	var entries []store.AuditEntry
	if err := s.db.SelectContext(ctx, &entries, q, false, limit); err != nil {
		return nil, fmt.Errorf("recent errors: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) CleanupOldLogs(ctx context.Context, before time.Time) (int64, error) {
	q := s.db.Rebind(`DELETE FROM audit_entries WHERE started_at < ?`)
	res, err := s.db.ExecContext(ctx, q, before)
	if err != nil {
		return 0, fmt.Errorf("cleanup old logs: %w", err)
	}
	return res.RowsAffected()
}

func auditWhere(filter store.AuditFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.Server != "" {
		clauses = append(clauses, "server = ?")
		args = append(args, filter.Server)
	}
	if filter.Tool != "" {
		clauses = append(clauses, "tool = ?")
		args = append(args, filter.Tool)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "started_at <= ?")
		args = append(args, filter.Until)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
