package config

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.TickInterval != 5*time.Second {
		t.Errorf("TickInterval = %v, want 5s", cfg.TickInterval)
	}
	if cfg.MaxJobsPerTick != 20 {
		t.Errorf("MaxJobsPerTick = %d, want 20", cfg.MaxJobsPerTick)
	}
	if !cfg.BootstrapJobs {
		t.Error("BootstrapJobs should default on")
	}
}

func TestLoadAppliesFloors(t *testing.T) {
	t.Setenv("SCHEDULER_TICK_SECONDS", "0")
	t.Setenv("SCHEDULER_MAX_JOBS_PER_TICK", "-3")

	cfg := Load()
	if cfg.TickInterval != time.Second {
		t.Errorf("TickInterval = %v, want floored to 1s", cfg.TickInterval)
	}
	if cfg.MaxJobsPerTick != 1 {
		t.Errorf("MaxJobsPerTick = %d, want floored to 1", cfg.MaxJobsPerTick)
	}
}

func TestLoadPrefersPlatformDatabaseURL(t *testing.T) {
	t.Setenv("PLATFORM_DATABASE_URL", "postgres://platform/db")
	t.Setenv("SCHEDULER_DATABASE_URL", "postgres://scheduler/db")

	if cfg := Load(); cfg.DatabaseURL != "postgres://platform/db" {
		t.Errorf("DatabaseURL = %q, want the platform URL to win", cfg.DatabaseURL)
	}
}

func TestEnvBool(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "YES": true, "on": true,
		"0": false, "false": false, "no": false, "off": false,
		"sideways": true, // unparseable falls back to the default
	}
	for raw, want := range cases {
		t.Setenv("SCHEDULER_BOOTSTRAP_JOBS", raw)
		if got := envBool("SCHEDULER_BOOTSTRAP_JOBS", true); got != want {
			t.Errorf("envBool(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestNormalizeTransport(t *testing.T) {
	cases := map[string]string{
		"http":            "http",
		"sse":             "http",
		"streamable-http": "http",
		"HTTP":            "http",
		"stdio":           "stdio",
		"":                "stdio",
		"carrier-pigeon":  "stdio",
	}
	for raw, want := range cases {
		if got := normalizeTransport(raw); got != want {
			t.Errorf("normalizeTransport(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestBuiltinBackendsReadClientTokenEnv(t *testing.T) {
	t.Setenv("DOCKER_MCP_TRANSPORT", "http")
	t.Setenv("DOCKER_MCP_URL", "http://docker-mcp:8080")
	t.Setenv("DOCKER_MCP_CLIENT_TOKEN", "shh")

	var docker *store.BackendSpec
	for _, b := range BuiltinBackends() {
		if b.Name == "docker" {
			copied := b
			docker = &copied
		}
	}
	if docker == nil {
		t.Fatal("docker backend missing from builtins")
	}
	if docker.Transport != "http" || docker.URL != "http://docker-mcp:8080" {
		t.Errorf("unexpected docker spec: %+v", docker)
	}
	if docker.ClientToken != "shh" {
		t.Errorf("ClientToken = %q, want value of DOCKER_MCP_CLIENT_TOKEN", docker.ClientToken)
	}
}

func TestMergeBackendsOverlaysByName(t *testing.T) {
	defaults := []store.BackendSpec{
		{Name: "docker", Transport: "stdio", Command: "docker-mcp"},
		{Name: "jenkins", Transport: "stdio", Command: "jenkins-mcp"},
	}
	overrides := []store.BackendSpec{
		{Name: "jenkins", Transport: "http", URL: "http://jenkins:9000"},
		{Name: "grafana", Transport: "http", URL: "http://grafana:3000"},
	}

	merged := MergeBackends(defaults, overrides)
	if len(merged) != 3 {
		t.Fatalf("merged %d backends, want 3", len(merged))
	}

	byName := map[string]store.BackendSpec{}
	for _, b := range merged {
		byName[b.Name] = b
	}
	if byName["docker"].Command != "docker-mcp" {
		t.Error("untouched default was altered")
	}
	if byName["jenkins"].Transport != "http" {
		t.Error("override did not replace the default")
	}
	if _, ok := byName["grafana"]; !ok {
		t.Error("new backend from overrides missing")
	}
}

func TestLoadBackendsFileMissingPathIsNotAnError(t *testing.T) {
	specs, err := LoadBackendsFile("")
	if err != nil || specs != nil {
		t.Fatalf("empty path: specs=%v err=%v", specs, err)
	}
	specs, err = LoadBackendsFile("/does/not/exist.yaml")
	if err != nil || specs != nil {
		t.Fatalf("missing file: specs=%v err=%v", specs, err)
	}
}
