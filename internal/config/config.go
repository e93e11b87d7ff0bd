package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the scheduler's environment-resolved runtime settings.
// Mirrors the original Python SchedulerConfig.from_env resolution order.
type Config struct {
	DatabaseURL      string
	TickInterval     time.Duration
	MaxJobsPerTick   int
	ClaimHorizon     time.Duration
	MCPTransport     string
	MCPHost          string
	MCPPort          int
	ClientToken      string
	BootstrapJobs    bool
	BackendsFile     string
	RedisURL         string
	OTelEndpoint     string
	OTelServiceName  string
}

// Load resolves Config from the process environment.
func Load() Config {
	cfg := Config{
		DatabaseURL:     firstNonEmpty(os.Getenv("PLATFORM_DATABASE_URL"), os.Getenv("SCHEDULER_DATABASE_URL")),
		TickInterval:    time.Duration(envIntFloor("SCHEDULER_TICK_SECONDS", 5, 1)) * time.Second,
		MaxJobsPerTick:  envIntFloor("SCHEDULER_MAX_JOBS_PER_TICK", 20, 1),
		ClaimHorizon:    30 * time.Second,
		MCPTransport:    firstNonEmpty(os.Getenv("SCHEDULER_MCP_TRANSPORT"), "http"),
		MCPHost:         firstNonEmpty(os.Getenv("SCHEDULER_MCP_HOST"), "0.0.0.0"),
		MCPPort:         envIntFloor("SCHEDULER_MCP_PORT", 8010, 1),
		ClientToken:     os.Getenv("SCHEDULER_CLIENT_TOKEN"),
		BootstrapJobs:   envBool("SCHEDULER_BOOTSTRAP_JOBS", true),
		BackendsFile:    os.Getenv("SCHEDULER_BACKENDS_FILE"),
		RedisURL:        os.Getenv("SCHEDULER_REDIS_URL"),
		OTelEndpoint:    os.Getenv("SCHEDULER_OTEL_ENDPOINT"),
		OTelServiceName: firstNonEmpty(os.Getenv("SCHEDULER_OTEL_SERVICE_NAME"), "goclaw-scheduler"),
	}
	return cfg
}

// IsDefaultLocalStore reports whether DatabaseURL resolves to the scheduler's
// own default local embedded file, the only case bootstrap seeding is
// allowed to act on.
func (c Config) IsDefaultLocalStore() bool {
	return c.DatabaseURL == "" || c.DatabaseURL == "sqlite://./data/scheduler.db"
}

func envIntFloor(key string, def, floor int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn("config: invalid int env var, using default", "key", key, "value", raw, "default", def)
		return def
	}
	if v < floor {
		return floor
	}
	return v
}

func envBool(key string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return def
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
