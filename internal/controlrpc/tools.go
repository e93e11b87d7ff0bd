package controlrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/dispatcher"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

func (s *Server) registerTools() {
	s.addTool("scheduler_health", "Report scheduler liveness, tick cadence, and the last tick's outcome.", s.toolHealth)
	s.addTool("scheduler_list_jobs", "List every registered job, most recently created first.", s.toolListJobs)
	s.addTool("scheduler_get_job", "Look up one job by id.", s.toolGetJob)
	s.addTool("scheduler_upsert_job", "Create or update a job.", s.toolUpsertJob)
	s.addTool("scheduler_delete_job", "Delete a job. Historical runs are preserved.", s.toolDeleteJob)
	s.addTool("scheduler_list_runs", "List run history, newest first, optionally filtered to one job.", s.toolListRuns)

	s.addTool("scheduler_get_tool_calls", "Query the tool-call audit log.", s.toolGetToolCalls)
	s.addTool("scheduler_get_tool_call_stats", "Aggregate audit stats across all servers/tools.", s.toolGetToolCallStats)
	s.addTool("scheduler_get_server_stats", "Aggregate audit stats per backend.", s.toolGetServerStats)
	s.addTool("scheduler_get_tool_stats", "Aggregate audit stats per (server, tool) pair.", s.toolGetToolStats)
	s.addTool("scheduler_get_hourly_stats", "Bucket audit call volume into hourly windows.", s.toolGetHourlyStats)
	s.addTool("scheduler_get_recent_errors", "List the most recent failed tool calls.", s.toolGetRecentErrors)
	s.addTool("scheduler_cleanup_old_logs", "Delete audit entries older than the retention horizon.", s.toolCleanupOldLogs)
	s.addTool("scheduler_probe_backend", "Check one backend's reachability by listing its tools.", s.toolProbeBackend)
}

func (s *Server) toolHealth(ctx context.Context, args map[string]any) (map[string]any, error) {
	state := s.loop.Health()
	result := map[string]any{
		"service":          "goclaw-scheduler",
		"thread_alive":     state.ThreadAlive,
		"tick_seconds":     s.tickSeconds,
		"db_kind":          s.dbKind,
		"started_at_utc":   s.startedAt,
		"last_tick_at_utc": nil,
		"last_tick_summary": map[string]any{
			"executed": state.LastTickSummary.Executed,
			"ok":       state.LastTickSummary.OK,
			"failed":   state.LastTickSummary.Failed,
			"jobs_due": state.LastTickSummary.JobsDue,
		},
	}
	if !state.LastTickAt.IsZero() {
		result["last_tick_at_utc"] = state.LastTickAt
	}
	return result, nil
}

func (s *Server) toolListJobs(ctx context.Context, args map[string]any) (map[string]any, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobToMap(j))
	}
	return map[string]any{"jobs": out}, nil
}

func (s *Server) toolGetJob(ctx context.Context, args map[string]any) (map[string]any, error) {
	id, err := parseUUID(argString(args, "id"))
	if err != nil {
		return map[string]any{"ok": false, "error": "not_found"}, nil
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return map[string]any{"ok": false, "error": "not_found"}, nil
	}
	return map[string]any{"job": jobToMap(*job)}, nil
}

func (s *Server) toolUpsertJob(ctx context.Context, args map[string]any) (map[string]any, error) {
	if err := s.checkRateLimit(); err != nil {
		return nil, err
	}

	jobID, err := parseUUID(argString(args, "id"))
	if err != nil {
		return nil, fmt.Errorf("invalid id: %w", err)
	}

	argsJSON, err := json.Marshal(argObject(args, "args"))
	if err != nil {
		argsJSON = []byte("{}")
	}

	job := store.Job{
		BaseModel:       store.BaseModel{ID: jobID},
		Label:           argString(args, "label"),
		Server:          argString(args, "server"),
		Tool:            argString(args, "tool"),
		ArgsJSON:        string(argsJSON),
		IntervalSeconds: argInt(args, "interval_seconds", 0),
		Enabled:         argBool(args, "enabled", true),
	}

	saved, err := s.store.UpsertJob(ctx, job)
	if err != nil {
		return nil, err
	}
	return map[string]any{"job": jobToMap(*saved)}, nil
}

func (s *Server) toolDeleteJob(ctx context.Context, args map[string]any) (map[string]any, error) {
	if err := s.checkRateLimit(); err != nil {
		return nil, err
	}
	id, err := parseUUID(argString(args, "id"))
	if err != nil {
		return map[string]any{"ok": false}, nil
	}
	deleted, err := s.store.DeleteJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": deleted}, nil
}

func (s *Server) toolListRuns(ctx context.Context, args map[string]any) (map[string]any, error) {
	limit := argInt(args, "limit", 50)
	var jobIDPtr *uuid.UUID
	if raw := argString(args, "job_id"); raw != "" {
		id, err := parseUUID(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid job_id: %w", err)
		}
		jobIDPtr = &id
	}
	runs, err := s.store.ListRuns(ctx, jobIDPtr, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(runs))
	for _, r := range runs {
		out = append(out, runToMap(r))
	}
	return map[string]any{"runs": out}, nil
}

func auditFilterFromArgs(args map[string]any) store.AuditFilter {
	f := store.AuditFilter{
		Server: argString(args, "server"),
		Tool:   argString(args, "tool"),
		Limit:  argInt(args, "limit", 100),
	}
	if raw := argString(args, "since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.Since = t
		}
	}
	if raw := argString(args, "until"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.Until = t
		}
	}
	return f
}

func (s *Server) toolGetToolCalls(ctx context.Context, args map[string]any) (map[string]any, error) {
	filter := auditFilterFromArgs(args)
	entries, err := s.store.ListAuditEntries(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditToMap(e))
	}
	return map[string]any{"calls": out}, nil
}

func (s *Server) toolGetToolCallStats(ctx context.Context, args map[string]any) (map[string]any, error) {
	filter := auditFilterFromArgs(args)
	stats, err := s.stats.ToolCallStats(ctx, filter)
	if err != nil {
		return nil, err
	}

	var total, successful int64
	var totalDuration float64
	servers := map[string]bool{}
	for _, st := range stats {
		total += st.Calls
		successful += st.OKCount
		totalDuration += st.AvgMS * float64(st.Calls)
		servers[st.Server] = true
	}
	failed := total - successful
	successRate := 0.0
	avgDuration := 0.0
	if total > 0 {
		successRate = float64(successful) / float64(total)
		avgDuration = totalDuration / float64(total)
	}
	return map[string]any{
		"total":           total,
		"successful":      successful,
		"failed":          failed,
		"success_rate":    successRate,
		"avg_duration_ms": avgDuration,
		"unique_servers":  len(servers),
	}, nil
}

func (s *Server) toolGetServerStats(ctx context.Context, args map[string]any) (map[string]any, error) {
	filter := auditFilterFromArgs(args)
	stats, err := s.stats.ServerStats(ctx, filter)
	if err != nil {
		return nil, err
	}
	toolStats, err := s.stats.ToolCallStats(ctx, filter)
	if err != nil {
		return nil, err
	}
	uniqueTools := map[string]map[string]bool{}
	for _, ts := range toolStats {
		if uniqueTools[ts.Server] == nil {
			uniqueTools[ts.Server] = map[string]bool{}
		}
		uniqueTools[ts.Server][ts.Tool] = true
	}

	out := make([]map[string]any, 0, len(stats))
	for _, st := range stats {
		failed := st.Calls - st.OKCount
		successRate := 0.0
		if st.Calls > 0 {
			successRate = float64(st.OKCount) / float64(st.Calls)
		}
		out = append(out, map[string]any{
			"server":       st.Server,
			"total":        st.Calls,
			"successful":   st.OKCount,
			"failed":       failed,
			"success_rate": successRate,
			"unique_tools": len(uniqueTools[st.Server]),
		})
	}
	return map[string]any{"servers": out}, nil
}

func (s *Server) toolGetToolStats(ctx context.Context, args map[string]any) (map[string]any, error) {
	filter := auditFilterFromArgs(args)
	stats, err := s.stats.ToolCallStats(ctx, filter)
	if err != nil {
		return nil, err
	}
	limit := argInt(args, "limit", 0)
	if limit > 0 && limit < len(stats) {
		stats = stats[:limit]
	}
	out := make([]map[string]any, 0, len(stats))
	for _, st := range stats {
		failed := st.Calls - st.OKCount
		successRate := 0.0
		if st.Calls > 0 {
			successRate = float64(st.OKCount) / float64(st.Calls)
		}
		out = append(out, map[string]any{
			"server":          st.Server,
			"tool":            st.Tool,
			"total":           st.Calls,
			"successful":      st.OKCount,
			"failed":          failed,
			"success_rate":    successRate,
			"avg_duration_ms": st.AvgMS,
		})
	}
	return map[string]any{"tools": out}, nil
}

func (s *Server) toolGetHourlyStats(ctx context.Context, args map[string]any) (map[string]any, error) {
	filter := auditFilterFromArgs(args)
	stats, err := s.stats.HourlyStats(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(stats))
	for _, st := range stats {
		failed := st.Calls - st.OKCount
		out = append(out, map[string]any{
			"hour":       st.HourStart,
			"total":      st.Calls,
			"successful": st.OKCount,
			"failed":     failed,
		})
	}
	return map[string]any{"hours": out}, nil
}

func (s *Server) toolGetRecentErrors(ctx context.Context, args map[string]any) (map[string]any, error) {
	limit := argInt(args, "limit", 20)
	entries, err := s.stats.RecentErrors(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditToMap(e))
	}
	return map[string]any{"errors": out}, nil
}

// defaultRetentionDays is the audit retention horizon used when the
// caller does not supply one.
const defaultRetentionDays = 30

func (s *Server) toolCleanupOldLogs(ctx context.Context, args map[string]any) (map[string]any, error) {
	days := argInt(args, "retention_days", defaultRetentionDays)
	before := time.Now().UTC().AddDate(0, 0, -days)
	n, err := s.stats.CleanupOldLogs(ctx, before)
	if err != nil {
		return nil, err
	}
	return map[string]any{"removed": n}, nil
}

func (s *Server) toolProbeBackend(ctx context.Context, args map[string]any) (map[string]any, error) {
	name := argString(args, "server")
	if name == "" {
		return nil, fmt.Errorf("server is required")
	}
	if _, ok := s.registry.Get(name); !ok {
		return nil, fmt.Errorf("%w: %q", dispatcher.ErrUnknownBackend, name)
	}

	start := time.Now()
	tools, err := s.dispatcher.ListToolNames(ctx, name)
	latency := time.Since(start)
	if err != nil {
		return map[string]any{"reachable": false, "error": err.Error(), "latency_ms": latency.Milliseconds()}, nil
	}
	return map[string]any{
		"reachable":  true,
		"latency_ms": latency.Milliseconds(),
		"tool_count": len(tools),
		"tools":      tools,
	}, nil
}
