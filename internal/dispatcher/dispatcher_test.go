package dispatcher

import (
	"context"
	"os"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

func TestResolveToolNameExactMatch(t *testing.T) {
	got := resolveToolName("restart_pod", []string{"restart_pod", "list_pods"})
	if got != "restart_pod" {
		t.Fatalf("want restart_pod, got %q", got)
	}
}

func TestResolveToolNameNormalizedMatch(t *testing.T) {
	got := resolveToolName("restart-pod", []string{"restart_pod", "list_pods"})
	if got != "restart_pod" {
		t.Fatalf("want restart_pod, got %q", got)
	}
}

func TestResolveToolNameAmbiguousNormalizedFallsBackToPassthrough(t *testing.T) {
	// "Build-X" and "build_x" both normalize to "build_x", so the
	// normalized-match step is ambiguous; neither narrows further under the
	// suffix/prefix heuristic, so the raw name passes through unresolved.
	known := []string{"Build-X", "build_x"}
	got := resolveToolName("BUILD-X", known)
	if got != "BUILD-X" {
		t.Fatalf("want passthrough of BUILD-X, got %q", got)
	}
}

func TestResolveToolNameSuffixMatch(t *testing.T) {
	known := []string{"list_pods", "nightly_build"}
	got := resolveToolName("build", known)
	if got != "nightly_build" {
		t.Fatalf("want nightly_build, got %q", got)
	}
}

func TestResolveToolNameUnmatchedPassesThrough(t *testing.T) {
	got := resolveToolName("totally_unknown", []string{"restart_pod"})
	if got != "totally_unknown" {
		t.Fatalf("want passthrough, got %q", got)
	}
}

func TestNormalizeResultPassthroughOK(t *testing.T) {
	result := &mcpgo.CallToolResult{
		Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: `{"ok":true,"count":3}`}},
	}
	ok, normalized := normalizeResult(result)
	if !ok {
		t.Fatal("expected ok")
	}
	if normalized["count"].(float64) != 3 {
		t.Fatalf("unexpected payload: %#v", normalized)
	}
}

func TestNormalizeResultPlainTextWrapped(t *testing.T) {
	result := &mcpgo.CallToolResult{
		Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: "pong"}},
	}
	ok, normalized := normalizeResult(result)
	if !ok {
		t.Fatal("expected ok")
	}
	if normalized["text"] != "pong" {
		t.Fatalf("unexpected payload: %#v", normalized)
	}
}

func TestNormalizeResultErrorEnvelope(t *testing.T) {
	result := &mcpgo.CallToolResult{
		Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: `{"error":"pod not found"}`}},
	}
	ok, normalized := normalizeResult(result)
	if ok {
		t.Fatal("expected failure")
	}
	if normalized["error"] != "pod not found" {
		t.Fatalf("unexpected payload: %#v", normalized)
	}
}

func TestNormalizeResultIsErrorFlag(t *testing.T) {
	result := &mcpgo.CallToolResult{
		IsError: true,
		Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: "boom"}},
	}
	ok, normalized := normalizeResult(result)
	if ok {
		t.Fatal("expected failure")
	}
	if normalized["error"] != "boom" {
		t.Fatalf("unexpected payload: %#v", normalized)
	}
}

func TestDeepCopyArgsIsIndependentOfSource(t *testing.T) {
	original := map[string]any{"pod": "web-1", "nested": map[string]any{"ns": "default"}}
	copyOf := deepCopyArgs(original)

	copyOf["pod"] = "mutated"
	nested := copyOf["nested"].(map[string]any)
	nested["ns"] = "mutated"

	if original["pod"] != "web-1" {
		t.Fatalf("source mutated: %#v", original)
	}
	if original["nested"].(map[string]any)["ns"] != "default" {
		t.Fatalf("nested source mutated: %#v", original)
	}
}

func TestDeepCopyArgsNilBecomesEmptyMap(t *testing.T) {
	copyOf := deepCopyArgs(nil)
	if copyOf == nil || len(copyOf) != 0 {
		t.Fatalf("want empty map, got %#v", copyOf)
	}
}

func TestSplitCommandPrefersExplicitArgs(t *testing.T) {
	spec := store.BackendSpec{Command: "docker-mcp", Args: []string{"--stdio"}}
	cmd, args, err := splitCommand(spec)
	if err != nil {
		t.Fatal(err)
	}
	if cmd != "docker-mcp" || len(args) != 1 || args[0] != "--stdio" {
		t.Fatalf("unexpected split: %q %#v", cmd, args)
	}
}

func TestSplitCommandParsesShellStyleString(t *testing.T) {
	spec := store.BackendSpec{Command: `docker-mcp --stdio --log-level "debug"`}
	cmd, args, err := splitCommand(spec)
	if err != nil {
		t.Fatal(err)
	}
	if cmd != "docker-mcp" {
		t.Fatalf("unexpected command: %q", cmd)
	}
	want := []string{"--stdio", "--log-level", "debug"}
	if len(args) != len(want) {
		t.Fatalf("unexpected args: %#v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("unexpected args: %#v", args)
		}
	}
}

func TestChildEnvInjectsRepoRootIntoPythonPath(t *testing.T) {
	t.Setenv("SCHEDULER_REPO_ROOT", "/srv/scheduler")
	t.Setenv("PYTHONPATH", "")

	env := childEnv(store.BackendSpec{Name: "docker"})
	if len(env) != 1 || env[0] != "PYTHONPATH=/srv/scheduler" {
		t.Fatalf("unexpected child env: %#v", env)
	}
}

func TestChildEnvPrependsRepoRootToExistingPythonPath(t *testing.T) {
	t.Setenv("SCHEDULER_REPO_ROOT", "/srv/scheduler")

	env := childEnv(store.BackendSpec{
		Name: "docker",
		Env:  map[string]string{"PYTHONPATH": "/opt/tools", "DOCKER_HOST": "unix:///var/run/docker.sock"},
	})

	var pythonPath, dockerHost string
	for _, kv := range env {
		switch {
		case strings.HasPrefix(kv, "PYTHONPATH="):
			pythonPath = strings.TrimPrefix(kv, "PYTHONPATH=")
		case strings.HasPrefix(kv, "DOCKER_HOST="):
			dockerHost = strings.TrimPrefix(kv, "DOCKER_HOST=")
		}
	}
	want := "/srv/scheduler" + string(os.PathListSeparator) + "/opt/tools"
	if pythonPath != want {
		t.Errorf("PYTHONPATH = %q, want %q", pythonPath, want)
	}
	if dockerHost != "unix:///var/run/docker.sock" {
		t.Errorf("backend override lost: %#v", env)
	}
}

func TestNormalizeMCPURLAppendsSuffix(t *testing.T) {
	if got := normalizeMCPURL("https://nexus.internal:9443/"); got != "https://nexus.internal:9443/mcp" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeMCPURLLeavesExistingSuffix(t *testing.T) {
	if got := normalizeMCPURL("https://nexus.internal:9443/mcp"); got != "https://nexus.internal:9443/mcp" {
		t.Fatalf("got %q", got)
	}
}

func TestRegistryReplaceAndGet(t *testing.T) {
	r := NewRegistry([]store.BackendSpec{{Name: "jenkins", Transport: "stdio"}})
	if _, ok := r.Get("jenkins"); !ok {
		t.Fatal("expected jenkins to be registered")
	}
	r.Replace([]store.BackendSpec{{Name: "nexus", Transport: "http"}})
	if _, ok := r.Get("jenkins"); ok {
		t.Fatal("expected jenkins to be gone after replace")
	}
	if _, ok := r.Get("nexus"); !ok {
		t.Fatal("expected nexus to be registered")
	}
}

func TestDispatcherCallUnknownBackend(t *testing.T) {
	d := New(NewRegistry(nil))
	if _, err := d.Call(context.Background(), "missing", "ping", nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
