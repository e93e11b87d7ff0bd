package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BaseModel provides common fields for all database models.
type BaseModel struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// GenNewID generates a new UUID v7 (time-ordered).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// StoreConfig describes the job store's settings. sqlstore.Open takes the
// database URL directly and does not read this struct. DatabaseURL's
// scheme selects the backing engine: "sqlite://" (or a bare file path) for
// the embedded engine, "postgres://"/"postgresql://" for the networked one.
type StoreConfig struct {
	// DatabaseURL is the connection string. Empty defaults to the local
	// embedded database at ./data/scheduler.db.
	DatabaseURL string

	// MigrationsPath names a migrations directory. Nothing reads it: the
	// Postgres migrations are embedded in the sqlstore package.
	MigrationsPath string
}

// Job is a persisted periodic tool invocation.
type Job struct {
	BaseModel
	Label           string     `json:"label" db:"label"`
	Server          string     `json:"server" db:"server"`
	Tool            string     `json:"tool" db:"tool"`
	ArgsJSON        string     `json:"args_json" db:"args_json"`
	IntervalSeconds int        `json:"interval_seconds" db:"interval_seconds"`
	Enabled         bool       `json:"enabled" db:"enabled"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty" db:"next_run_at"`
}

// Args unmarshals ArgsJSON into a generic map, defaulting to an empty object
// on malformed or absent input.
func (j Job) Args() map[string]any {
	return safeParseArgs(j.ArgsJSON)
}

// Run is one recorded execution attempt of a Job.
type Run struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	JobID      uuid.UUID  `json:"job_id" db:"job_id"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	OK         *bool      `json:"ok,omitempty" db:"ok"`
	ResultJSON *string    `json:"result_json,omitempty" db:"result_json"`
	Error      *string    `json:"error,omitempty" db:"error"`
}

// AuditEntry is one recorded tool call, with credentials redacted from
// ArgsJSON before persistence and ResultPreview capped at 2000 code points.
type AuditEntry struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Server        string    `json:"server" db:"server"`
	Tool          string    `json:"tool" db:"tool"`
	ArgsJSON      string    `json:"args_json" db:"args_json"`
	OK            bool      `json:"ok" db:"ok"`
	ResultPreview string    `json:"result_preview" db:"result_preview"`
	Error         *string   `json:"error,omitempty" db:"error"`
	ErrorType     *string   `json:"error_type,omitempty" db:"error_type"`
	DurationMS    int64     `json:"duration_ms" db:"duration_ms"`

	// Source tags the caller that triggered this call ("scheduler" for a
	// tick-loop dispatch, or an interactive caller's own free-form tag).
	Source string `json:"source" db:"source"`

	// RequestID identifies this one call; SessionID identifies the
	// dispatcher session it was made under, and is empty for callers that
	// never established one.
	RequestID string  `json:"request_id" db:"request_id"`
	SessionID *string `json:"session_id,omitempty" db:"session_id"`

	StartedAt  time.Time `json:"started_at" db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
}

// BackendSpec describes how to reach one MCP backend.
type BackendSpec struct {
	Name string `yaml:"name" json:"name"`

	// Transport is "stdio" or "http". Blank defaults to "stdio".
	Transport string `yaml:"transport" json:"transport"`

	// Stdio transport fields.
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`

	// HTTP transport fields.
	URL string `yaml:"url" json:"url"`

	Env map[string]string `yaml:"env" json:"env"`

	// ClientToken, if set, is injected into every call's arguments as
	// "_client_token" after the args have been captured for the audit log.
	ClientToken string `yaml:"client_token" json:"-"`

	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

func safeParseArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]any{}
	}
	if m == nil {
		return map[string]any{}
	}
	return m
}
