package audit

import (
	"strings"
	"testing"
)

func TestRedactTopLevelKey(t *testing.T) {
	out := Redact(map[string]any{"_client_token": "abc123", "pod": "web-1"})
	if out["_client_token"] != redactedPlaceholder {
		t.Fatalf("expected token redacted, got %#v", out)
	}
	if out["pod"] != "web-1" {
		t.Fatalf("expected pod preserved, got %#v", out)
	}
}

func TestRedactIsCaseInsensitive(t *testing.T) {
	out := Redact(map[string]any{"API_Key": "xyz"})
	if out["API_Key"] != redactedPlaceholder {
		t.Fatalf("expected redaction regardless of case, got %#v", out)
	}
}

func TestRedactNestedMap(t *testing.T) {
	out := Redact(map[string]any{
		"auth": map[string]any{"password": "hunter2", "user": "ops"},
	})
	auth := out["auth"].(map[string]any)
	if auth["password"] != redactedPlaceholder {
		t.Fatalf("expected nested password redacted, got %#v", auth)
	}
	if auth["user"] != "ops" {
		t.Fatalf("expected user preserved, got %#v", auth)
	}
}

func TestRedactSliceOfMaps(t *testing.T) {
	out := Redact(map[string]any{
		"targets": []any{
			map[string]any{"token": "a"},
			map[string]any{"token": "b", "name": "web-2"},
		},
	})
	targets := out["targets"].([]any)
	first := targets[0].(map[string]any)
	second := targets[1].(map[string]any)
	if first["token"] != redactedPlaceholder || second["token"] != redactedPlaceholder {
		t.Fatalf("expected tokens redacted in slice, got %#v", targets)
	}
	if second["name"] != "web-2" {
		t.Fatalf("expected name preserved, got %#v", second)
	}
}

func TestRedactDoesNotMutateSource(t *testing.T) {
	source := map[string]any{"token": "secret-value"}
	_ = Redact(source)
	if source["token"] != "secret-value" {
		t.Fatalf("source was mutated: %#v", source)
	}
}

func TestRedactNilArgs(t *testing.T) {
	if out := Redact(nil); out != nil {
		t.Fatalf("expected nil passthrough, got %#v", out)
	}
}

func TestPreviewShortTextUnchanged(t *testing.T) {
	if got := Preview("short"); got != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestPreviewTruncatesLongText(t *testing.T) {
	long := strings.Repeat("a", maxPreviewRunes+500)
	got := Preview(long)
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis suffix, got suffix %q", got[len(got)-10:])
	}
	if len([]rune(got)) != maxPreviewRunes {
		t.Fatalf("truncated preview is %d runes, want exactly the %d cap", len([]rune(got)), maxPreviewRunes)
	}
}

func TestPreviewAtCapUnchanged(t *testing.T) {
	exact := strings.Repeat("b", maxPreviewRunes)
	if got := Preview(exact); got != exact {
		t.Fatalf("text exactly at the cap was altered")
	}
}
