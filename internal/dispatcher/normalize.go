package dispatcher

import (
	"encoding/json"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// normalizeResult flattens an MCP CallToolResult into the scheduler's
// uniform result shape:
//
//   - a backend that returns {"ok": ..., ...} passes through unchanged;
//   - a backend that returns {"content": [{"type":"text", "text": ...}]}
//     has its text blocks concatenated and re-parsed as JSON when the
//     joined text is itself a JSON object, otherwise wrapped as
//     {"ok": true, "text": joined};
//   - an error envelope {"error": {...}} becomes {"ok": false, "error": msg}.
func normalizeResult(result *mcpgo.CallToolResult) (ok bool, normalized map[string]any) {
	if result == nil {
		return false, map[string]any{"ok": false, "error": "empty result"}
	}

	text := extractTextContent(result)

	if result.IsError {
		msg := text
		if msg == "" {
			msg = "tool call failed"
		}
		return false, map[string]any{"ok": false, "error": msg}
	}

	if text != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			if errVal, hasErr := parsed["error"]; hasErr {
				if m, isMap := errVal.(map[string]any); isMap {
					if msg, isStr := m["message"].(string); isStr {
						errVal = msg
					}
				}
				return false, map[string]any{"ok": false, "error": errVal}
			}
			if _, hasOK := parsed["ok"]; hasOK {
				return truthy(parsed["ok"]), parsed
			}
			parsed["ok"] = true
			return true, parsed
		}
	}

	return true, map[string]any{"ok": true, "text": text}
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// extractTextContent concatenates all text content blocks from a
// CallToolResult, same idiom as the bridge tool's single-tool equivalent.
func extractTextContent(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		}
	}
	return strings.Join(parts, "\n")
}
