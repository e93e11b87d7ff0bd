package dispatcher

import (
	"fmt"
	"os"
	"path/filepath"

	shellwords "github.com/mattn/go-shellwords"

	mcpclient "github.com/mark3labs/mcp-go/client"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

// newStdioClient launches spec's backend as a child process and frames
// JSON-RPC over its stdin/stdout, exactly the way mcp-go's stdio transport
// speaks the protocol; the scheduler never hand-rolls message framing.
func newStdioClient(spec store.BackendSpec) (*mcpclient.Client, error) {
	command, args, err := splitCommand(spec)
	if err != nil {
		return nil, fmt.Errorf("backend %q: %w", spec.Name, err)
	}
	if command == "" {
		return nil, fmt.Errorf("backend %q: no command configured for stdio transport", spec.Name)
	}

	client, err := mcpclient.NewStdioMCPClient(command, childEnv(spec), args...)
	if err != nil {
		return nil, fmt.Errorf("start stdio backend %q: %w", spec.Name, err)
	}
	return client, nil
}

// childEnv builds the environment entries handed to a stdio child on top
// of the inherited process environment: the backend-specific overrides
// plus a PYTHONPATH entry carrying the repository root, so a child
// implemented against the repo's own code can import it even when the
// scheduler is launched from a different working directory.
func childEnv(spec store.BackendSpec) []string {
	env := make([]string, 0, len(spec.Env)+1)
	pythonPath := os.Getenv("PYTHONPATH")
	for k, v := range spec.Env {
		if k == "PYTHONPATH" {
			pythonPath = v
			continue
		}
		env = append(env, k+"="+v)
	}

	if root := repoRoot(); root != "" {
		if pythonPath == "" {
			pythonPath = root
		} else {
			pythonPath = root + string(os.PathListSeparator) + pythonPath
		}
	}
	if pythonPath != "" {
		env = append(env, "PYTHONPATH="+pythonPath)
	}
	return env
}

// repoRoot resolves the directory stdio children treat as the code root:
// an explicit SCHEDULER_REPO_ROOT wins, then the running binary's
// directory, then the working directory.
func repoRoot() string {
	if root := os.Getenv("SCHEDULER_REPO_ROOT"); root != "" {
		return root
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Dir(exe)
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return ""
}

// splitCommand resolves the argv for a stdio backend. If Args is already
// populated, Command is used verbatim as the binary. Otherwise Command is
// treated as an operator-authored command line and split the way a shell
// would, matching the original system's reliance on shell-style quoting in
// its MCP server command strings.
func splitCommand(spec store.BackendSpec) (string, []string, error) {
	if len(spec.Args) > 0 {
		return spec.Command, spec.Args, nil
	}
	fields, err := shellwords.Parse(spec.Command)
	if err != nil {
		return "", nil, fmt.Errorf("parse command: %w", err)
	}
	if len(fields) == 0 {
		return "", nil, nil
	}
	return fields[0], fields[1:], nil
}
