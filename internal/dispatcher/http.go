package dispatcher

import (
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

// newHTTPClient opens a streamable-HTTP MCP session against spec's URL.
// mcp-go's transport owns the mcp-session-id handshake and the
// SSE-vs-plain-JSON response branching; the scheduler only supplies the
// URL and headers.
func newHTTPClient(spec store.BackendSpec) (*mcpclient.Client, error) {
	url := normalizeMCPURL(spec.URL)
	if url == "" {
		return nil, fmt.Errorf("backend %q: no url configured for http transport", spec.Name)
	}

	var opts []transport.StreamableHTTPCOption
	if len(spec.Env) > 0 {
		headers := make(map[string]string, len(spec.Env))
		for k, v := range spec.Env {
			headers[k] = v
		}
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	client, err := mcpclient.NewStreamableHttpClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect http backend %q: %w", spec.Name, err)
	}
	return client, nil
}

// normalizeMCPURL appends the conventional "/mcp" suffix when the operator
// configured only a base URL.
func normalizeMCPURL(raw string) string {
	url := strings.TrimRight(strings.TrimSpace(raw), "/")
	if url == "" {
		return ""
	}
	if strings.HasSuffix(url, "/mcp") {
		return url
	}
	return url + "/mcp"
}
