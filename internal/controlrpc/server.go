// Package controlrpc exposes the scheduler's own job CRUD, health, and run
// history as MCP tools on the exact wire protocol the scheduler speaks to
// every other backend: the scheduler is also a backend, named "scheduler".
package controlrpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/audit"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/dispatcher"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/tickloop"
)

// unauthorizedError is the tool-level error string returned (inside an
// {ok:false} result, never as a transport error) when a caller's
// _client_token doesn't match the configured one.
const unauthorizedError = "unauthorized"

// mutationRateLimit bounds how often scheduler_upsert_job/scheduler_delete_job
// may run, guarding the Store against a misbehaving or looping caller.
const mutationRateLimit = 5 // per second
const mutationBurst = 10

// Server wraps an mcp-go MCP server exposing the scheduler's control
// plane. It holds no state of its own beyond wiring: job CRUD goes
// straight to Store, health reads the tick loop's published snapshot.
type Server struct {
	mcp *server.MCPServer

	store       store.Store
	stats       *audit.Stats
	dispatcher  *dispatcher.Dispatcher
	registry    *dispatcher.Registry
	loop        *tickloop.Loop
	clientToken string
	dbKind      string
	tickSeconds int
	startedAt   time.Time

	limiter *rate.Limiter
}

// Options configures a new control-plane Server.
type Options struct {
	Store       store.Store
	Stats       *audit.Stats
	Dispatcher  *dispatcher.Dispatcher
	Registry    *dispatcher.Registry
	Loop        *tickloop.Loop
	ClientToken string
	DBKind      string
	TickSeconds int
}

// New builds a Server and registers all of its tools.
func New(opts Options) *Server {
	s := &Server{
		mcp:         server.NewMCPServer("goclaw-scheduler", "0.1.0", server.WithToolCapabilities(true)),
		store:       opts.Store,
		stats:       opts.Stats,
		dispatcher:  opts.Dispatcher,
		registry:    opts.Registry,
		loop:        opts.Loop,
		clientToken: opts.ClientToken,
		dbKind:      opts.DBKind,
		tickSeconds: opts.TickSeconds,
		startedAt:   time.Now().UTC(),
		limiter:     rate.NewLimiter(mutationRateLimit, mutationBurst),
	}
	s.registerTools()
	return s
}

// ServeStdio runs the control surface over stdio, blocking until the
// transport closes. ctx is not passed on to the stdio server.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// ServeHTTP runs the control surface as a streamable-HTTP MCP server,
// blocking until the listener stops.
func (s *Server) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcp)
	return httpServer.Start(addr)
}

// addTool registers one tool. handler receives the call's raw argument
// map; authorize() has already been applied by the wrapper below.
func (s *Server) addTool(name, description string, handler func(ctx context.Context, args map[string]any) (map[string]any, error)) {
	tool := mcp.NewTool(name, mcp.WithDescription(description))
	s.mcp.AddTool(tool, s.wrap(handler))
}

// wrap applies authorization and JSON-result marshaling around a tool
// handler, producing the same uniform {ok, ...} shape every backend
// (including this one) returns.
func (s *Server) wrap(handler func(ctx context.Context, args map[string]any) (map[string]any, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if err := s.authorize(args); err != nil {
			return jsonResult(map[string]any{"ok": false, "error": unauthorizedError}), nil
		}

		result, err := handler(ctx, args)
		if err != nil {
			return jsonResult(map[string]any{"ok": false, "error": err.Error()}), nil
		}
		if _, has := result["ok"]; !has {
			result["ok"] = true
		}
		return jsonResult(result), nil
	}
}

// authorize gates the control surface: when a client token is configured,
// every call must carry a matching _client_token argument; with none
// configured the surface is open (local dev).
func (s *Server) authorize(args map[string]any) error {
	if s.clientToken == "" {
		return nil
	}
	token, _ := args["_client_token"].(string)
	if token != s.clientToken {
		return errors.New(unauthorizedError)
	}
	return nil
}

// checkRateLimit is applied by the two mutating tools.
func (s *Server) checkRateLimit() error {
	if !s.limiter.Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}
