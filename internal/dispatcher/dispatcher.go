package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

// ErrUnknownBackend is returned when Call names a backend the Registry
// does not know about.
var ErrUnknownBackend = errors.New("unknown backend")

const defaultTimeout = 60 * time.Second

// CallOutcome is everything the tick loop and the audit log need out of
// one dispatch: the normalized result, whether it succeeded, how long it
// took, and the arguments as captured before token injection (the only
// copy that should ever reach persistence).
type CallOutcome struct {
	OK           bool
	Result       map[string]any
	ErrorText    string
	Duration     time.Duration
	ArgsForAudit map[string]any
}

// Dispatcher calls tools on registered backends over stdio or streamable
// HTTP, reusing one session per backend across calls.
type Dispatcher struct {
	registry *Registry
	cache    *toolCache

	mu       sync.Mutex
	sessions map[string]*mcpclient.Client
}

// New creates a Dispatcher over the given backend registry.
func New(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		cache:    newToolCache(),
		sessions: make(map[string]*mcpclient.Client),
	}
}

// Close shuts down every open backend session.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, c := range d.sessions {
		_ = c.Close()
		delete(d.sessions, name)
	}
}

// Call invokes tool on server with args, injecting the backend's client
// token (if any) after args is captured for the audit log, resolving the
// tool name against the backend's advertised tool list, and normalizing
// whatever shape the backend returns.
func (d *Dispatcher) Call(ctx context.Context, server, tool string, args map[string]any) (CallOutcome, error) {
	spec, ok := d.registry.Get(server)
	if !ok {
		return CallOutcome{}, fmt.Errorf("%w: %q", ErrUnknownBackend, server)
	}

	argsForAudit := deepCopyArgs(args)

	client, err := d.getSession(ctx, spec)
	if err != nil {
		return CallOutcome{ArgsForAudit: argsForAudit}, err
	}

	resolved := d.resolveTool(ctx, spec, client, tool)

	callArgs := deepCopyArgs(args)
	if spec.ClientToken != "" {
		callArgs["_client_token"] = spec.ClientToken
	}

	timeout := defaultTimeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req := mcpgo.CallToolRequest{}
	req.Params.Name = resolved
	req.Params.Arguments = callArgs

	result, err := client.CallTool(callCtx, req)
	duration := time.Since(start)

	if err != nil {
		// Drop the session so the next call reconnects: a stdio child may
		// have crashed, or an HTTP session id may have expired server-side.
		d.dropSession(spec.Name)
		msg := err.Error()
		if callCtx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("tool %q on %q timed out after %s", tool, server, timeout)
		}
		return CallOutcome{
			OK:           false,
			ErrorText:    msg,
			Duration:     duration,
			ArgsForAudit: argsForAudit,
		}, nil
	}

	ok, normalized := normalizeResult(result)
	errText := ""
	if !ok {
		if e, isStr := normalized["error"].(string); isStr {
			errText = e
		} else if normalized["error"] != nil {
			errText = fmt.Sprintf("%v", normalized["error"])
		}
	}

	return CallOutcome{
		OK:           ok,
		Result:       normalized,
		ErrorText:    errText,
		Duration:     duration,
		ArgsForAudit: argsForAudit,
	}, nil
}

// ListToolNames connects to server (reusing its session if one is open),
// refreshes the cached tool list, and returns the advertised tool names.
// scheduler_probe_backend uses this as its reachability check.
func (d *Dispatcher) ListToolNames(ctx context.Context, server string) ([]string, error) {
	spec, ok := d.registry.Get(server)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, server)
	}

	client, err := d.getSession(ctx, spec)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	result, err := client.ListTools(listCtx, mcpgo.ListToolsRequest{})
	if err != nil {
		d.dropSession(spec.Name)
		return nil, fmt.Errorf("list tools on %q: %w", server, err)
	}

	names := make([]string, 0, len(result.Tools))
	for _, t := range result.Tools {
		names = append(names, t.Name)
	}
	d.cache.set(spec.Name, names)
	return names, nil
}

// dropSession closes and forgets one backend's session, along with its
// cached tool list, so the next call re-connects and re-initializes.
func (d *Dispatcher) dropSession(name string) {
	d.mu.Lock()
	c, ok := d.sessions[name]
	if ok {
		delete(d.sessions, name)
	}
	d.mu.Unlock()
	if ok {
		_ = c.Close()
	}
	d.cache.invalidate(name)
}

// getSession returns the cached session for spec, connecting and running
// the single initialize exchange on first use.
func (d *Dispatcher) getSession(ctx context.Context, spec store.BackendSpec) (*mcpclient.Client, error) {
	d.mu.Lock()
	if c, ok := d.sessions[spec.Name]; ok {
		d.mu.Unlock()
		return c, nil
	}
	d.mu.Unlock()

	client, err := d.connect(spec)
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "goclaw-scheduler", Version: "0.1.0"}
	if _, err := client.Initialize(initCtx, initReq); err != nil {
		return nil, fmt.Errorf("initialize backend %q: %w", spec.Name, err)
	}

	d.mu.Lock()
	d.sessions[spec.Name] = client
	d.mu.Unlock()

	return client, nil
}

func (d *Dispatcher) connect(spec store.BackendSpec) (*mcpclient.Client, error) {
	switch spec.Transport {
	case "http":
		return newHTTPClient(spec)
	default:
		return newStdioClient(spec)
	}
}

// resolveTool looks up (and lazily caches) the backend's advertised tool
// names and runs the resolution cascade against the requested name.
func (d *Dispatcher) resolveTool(ctx context.Context, spec store.BackendSpec, client *mcpclient.Client, requested string) string {
	names, ok := d.cache.get(spec.Name)
	if !ok {
		listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		result, err := client.ListTools(listCtx, mcpgo.ListToolsRequest{})
		if err != nil {
			return requested
		}
		names = make([]string, 0, len(result.Tools))
		for _, t := range result.Tools {
			names = append(names, t.Name)
		}
		d.cache.set(spec.Name, names)
	}
	return resolveToolName(requested, names)
}

func deepCopyArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return map[string]any{}
	}
	var copyOf map[string]any
	if err := json.Unmarshal(data, &copyOf); err != nil {
		return map[string]any{}
	}
	return copyOf
}
