package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

// builtinBackendNames mirrors the original system's four default MCP
// targets (docker, kubernetes, jenkins, nexus), each configurable purely
// through environment variables so a deployment needs no YAML file to get
// the default bootstrap jobs running.
var builtinBackendNames = []string{"docker", "kubernetes", "jenkins", "nexus"}

// BuiltinBackends resolves the default backend set from environment
// variables of the form <NAME>_MCP_TRANSPORT / <NAME>_MCP_COMMAND /
// <NAME>_MCP_ARGS / <NAME>_MCP_URL / <NAME>_MCP_CLIENT_TOKEN.
func BuiltinBackends() []store.BackendSpec {
	specs := make([]store.BackendSpec, 0, len(builtinBackendNames))
	for _, name := range builtinBackendNames {
		prefix := strings.ToUpper(name) + "_MCP_"
		transport := normalizeTransport(os.Getenv(prefix + "TRANSPORT"))

		spec := store.BackendSpec{
			Name:        name,
			Transport:   transport,
			Command:     os.Getenv(prefix + "COMMAND"),
			URL:         os.Getenv(prefix + "URL"),
			ClientToken: os.Getenv(prefix + "CLIENT_TOKEN"),
		}
		if args := os.Getenv(prefix + "ARGS"); args != "" {
			spec.Args = strings.Fields(args)
		}
		specs = append(specs, spec)
	}
	return specs
}

// normalizeTransport maps the loose transport spellings operators tend to
// use ("sse", "streamable-http") onto the scheduler's "http" constant,
// defaulting unset or unrecognized values to "stdio".
func normalizeTransport(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "http", "sse", "streamable-http":
		return "http"
	case "":
		return "stdio"
	default:
		return "stdio"
	}
}

// backendsFile is the on-disk shape of the optional YAML override file.
type backendsFile struct {
	Backends []store.BackendSpec `yaml:"backends"`
}

// LoadBackendsFile parses the optional YAML override file. A missing path
// (empty string) or missing file is not an error; callers fall back to
// BuiltinBackends.
func LoadBackendsFile(path string) ([]store.BackendSpec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backends file: %w", err)
	}
	var f backendsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse backends file: %w", err)
	}
	for i := range f.Backends {
		f.Backends[i].Transport = normalizeTransport(f.Backends[i].Transport)
	}
	return f.Backends, nil
}

// MergeBackends overlays override entries onto the builtin defaults by
// name, letting a YAML file add new backends or replace built-in ones
// without having to repeat the ones it doesn't touch.
func MergeBackends(defaults, overrides []store.BackendSpec) []store.BackendSpec {
	byName := make(map[string]store.BackendSpec, len(defaults))
	order := make([]string, 0, len(defaults))
	for _, b := range defaults {
		byName[b.Name] = b
		order = append(order, b.Name)
	}
	for _, b := range overrides {
		if _, exists := byName[b.Name]; !exists {
			order = append(order, b.Name)
		}
		byName[b.Name] = b
	}

	merged := make([]store.BackendSpec, 0, len(order))
	for _, name := range order {
		merged = append(merged, byName[name])
	}
	return merged
}
