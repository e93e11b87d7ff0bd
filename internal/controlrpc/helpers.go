package controlrpc

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

func jsonResult(v map[string]any) *mcp.CallToolResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultText(`{"ok":false,"error":"internal: failed to encode result"}`)
	}
	return mcp.NewToolResultText(string(raw))
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argBool(args map[string]any, key string, def bool) bool {
	v, ok := args[key].(bool)
	if !ok {
		return def
	}
	return v
}

// argInt reads a numeric argument. JSON numbers decode as float64, so that
// is the only numeric kind this needs to accept.
func argInt(args map[string]any, key string, def int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	return int(v)
}

func argObject(args map[string]any, key string) map[string]any {
	v, ok := args[key].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return v
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

func jobToMap(j store.Job) map[string]any {
	m := map[string]any{
		"id":               j.ID.String(),
		"label":            j.Label,
		"server":           j.Server,
		"tool":             j.Tool,
		"args":             j.Args(),
		"interval_seconds": j.IntervalSeconds,
		"enabled":          j.Enabled,
		"created_at":       j.CreatedAt,
		"updated_at":       j.UpdatedAt,
	}
	if j.NextRunAt != nil {
		m["next_run_at"] = j.NextRunAt
	} else {
		m["next_run_at"] = nil
	}
	return m
}

func runToMap(r store.Run) map[string]any {
	m := map[string]any{
		"id":         r.ID.String(),
		"job_id":     r.JobID.String(),
		"started_at": r.StartedAt,
		"ok":         r.OK,
		"error":      r.Error,
	}
	if r.FinishedAt != nil {
		m["finished_at"] = r.FinishedAt
	} else {
		m["finished_at"] = nil
	}
	if r.ResultJSON != nil {
		var parsed any
		if json.Unmarshal([]byte(*r.ResultJSON), &parsed) == nil {
			m["result"] = parsed
		} else {
			m["result"] = *r.ResultJSON
		}
	} else {
		m["result"] = nil
	}
	return m
}

func auditToMap(a store.AuditEntry) map[string]any {
	var args any
	_ = json.Unmarshal([]byte(a.ArgsJSON), &args)
	return map[string]any{
		"id":             a.ID.String(),
		"server":         a.Server,
		"tool":           a.Tool,
		"args":           args,
		"ok":             a.OK,
		"result_preview": a.ResultPreview,
		"error":          a.Error,
		"error_type":     a.ErrorType,
		"duration_ms":    a.DurationMS,
		"source":         a.Source,
		"request_id":     a.RequestID,
		"session_id":     a.SessionID,
		"started_at":     a.StartedAt,
		"finished_at":    a.FinishedAt,
	}
}
