package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

// Interceptor wraps every tool invocation, scheduled or interactive, in a
// before/after pair: before captures the call's start time and a redacted
// copy of its arguments, after captures the outcome and writes one audit
// row. Writes are best-effort; a store failure here must never propagate
// to the caller that made the tool call.
type Interceptor struct {
	store store.Store
	cache *Cache
}

// NewInterceptor wires an Interceptor over store, optionally publishing
// through cache (may be nil).
func NewInterceptor(s store.Store, cache *Cache) *Interceptor {
	return &Interceptor{store: s, cache: cache}
}

// Call describes one in-flight tool invocation to an interceptor.
type Call struct {
	Server    string
	Tool      string
	Args      map[string]any
	Source    string
	RequestID string
	SessionID string
}

// Outcome describes how a Call finished.
type Outcome struct {
	OK         bool
	Result     map[string]any
	ErrorText  string
	ErrorType  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Record redacts call.Args, truncates outcome.Result to a preview, and
// writes one audit row. It never returns an error: an audit-write failure
// is logged and swallowed, never surfaced to the caller whose tool call
// it describes.
func (i *Interceptor) Record(ctx context.Context, call Call, outcome Outcome) {
	if call.RequestID == "" {
		call.RequestID = uuid.NewString()
	}
	redacted := Redact(call.Args)
	argsJSON, err := json.Marshal(redacted)
	if err != nil {
		argsJSON = []byte("{}")
	}

	entry := store.AuditEntry{
		Server:        call.Server,
		Tool:          call.Tool,
		ArgsJSON:      string(argsJSON),
		OK:            outcome.OK,
		ResultPreview: Preview(resultText(outcome.Result)),
		DurationMS:    outcome.FinishedAt.Sub(outcome.StartedAt).Milliseconds(),
		Source:        call.Source,
		RequestID:     call.RequestID,
		StartedAt:     outcome.StartedAt,
		FinishedAt:    outcome.FinishedAt,
	}
	if outcome.ErrorText != "" {
		errText := outcome.ErrorText
		entry.Error = &errText
	}
	if outcome.ErrorType != "" {
		errType := outcome.ErrorType
		entry.ErrorType = &errType
	}
	if call.SessionID != "" {
		sessionID := call.SessionID
		entry.SessionID = &sessionID
	}

	if _, err := i.store.RecordAuditEntry(ctx, entry); err != nil {
		slog.Warn("audit write failed", "server", call.Server, "tool", call.Tool, "error", err)
		return
	}
	if i.cache != nil {
		i.cache.invalidateAll(ctx)
	}
}

// PublishRun forwards a freshly recorded run to the pub/sub channel that
// interactive tails subscribe to. Safe to call with no cache attached.
func (i *Interceptor) PublishRun(ctx context.Context, jobID string, ok *bool) {
	i.cache.PublishRun(ctx, jobID, ok)
}

func resultText(result map[string]any) string {
	if result == nil {
		return ""
	}
	if text, ok := result["text"].(string); ok && len(result) <= 2 {
		return text
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(raw)
}
