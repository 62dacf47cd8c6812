package logger

import (
	"strings"
	"testing"
)

func TestSanitizeValueRedactsContactDetails(t *testing.T) {
	for _, key := range []string{"email", "phone_number", "refresh_token"} {
		if got := sanitizeValue(key, "secret-ish"); got != "[REDACTED]" {
			t.Fatalf("%s: want=[REDACTED] got=%v", key, got)
		}
	}
}

func TestSanitizeValueHashesIdentifiers(t *testing.T) {
	got, ok := sanitizeValue("author_id", "u-123").(string)
	if !ok || !strings.HasPrefix(got, "hash:") {
		t.Fatalf("author_id: want hash prefix got=%v", got)
	}
	if again := sanitizeValue("uid", "u-123"); again != got {
		t.Fatalf("hash not stable: %v vs %v", got, again)
	}
	if got := sanitizeValue("uid", ""); got != "" {
		t.Fatalf("empty uid: want empty got=%v", got)
	}
}

func TestSanitizeValueNestedMap(t *testing.T) {
	in := map[string]interface{}{"email": "a@b.c", "path": "users/x"}
	out, ok := sanitizeValue("payload", in).(map[string]interface{})
	if !ok {
		t.Fatalf("expected map")
	}
	if out["email"] != "[REDACTED]" || out["path"] != "users/x" {
		t.Fatalf("unexpected sanitized map: %#v", out)
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"production", "test", "development"} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.With("component", "test").Debug("hello", "uid", "abc")
	}
}
