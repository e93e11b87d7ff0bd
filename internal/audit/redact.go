// Package audit turns raw tool-call outcomes into the records the store
// persists: redacted arguments, truncated result previews, and the
// aggregate statistics served over the control-plane RPC surface.
package audit

import (
	"strings"
	"unicode/utf8"
)

const redactedPlaceholder = "[REDACTED]"

// sensitiveKeys names the argument keys scrubbed before anything reaches
// the audit log, matched case-insensitively. _client_token heads the list
// since it is the one key the dispatcher itself injects.
var sensitiveKeys = map[string]bool{
	"_client_token": true,
	"client_token":  true,
	"token":         true,
	"api_token":     true,
	"password":      true,
	"secret":        true,
	"api_key":       true,
	"authorization": true,
}

// maxPreviewRunes bounds how much of a tool result is kept as a preview
// in the audit log; longer results are truncated with an ellipsis marker.
const maxPreviewRunes = 2000

// Redact walks args recursively and replaces the value of any sensitive
// key, in maps and in slices of maps, with a fixed placeholder. The input
// is not mutated; Redact returns a new structure.
func Redact(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	return redactMap(args).(map[string]any)
}

func redactMap(m map[string]any) any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveKeys[strings.ToLower(k)] {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return redactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return val
	}
}

// Preview caps text at maxPreviewRunes Unicode code points. A truncated
// preview ends in an ellipsis marker that counts against the cap, so the
// result never exceeds it.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= maxPreviewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxPreviewRunes-1]) + "…"
}
