package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerWithService(t *testing.T) {
	l := NewLoggerWithService("svc-a")
	entry := l.WithField("k", "v")
	if entry == nil {
		t.Fatalf("expected non-nil entry")
	}
}

func TestServiceFieldOnEveryEntry(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	l := NewLoggerWithService("bosun")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.WithField("tenant_id", "t-1").Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "bosun" {
		t.Fatalf("expected service=bosun, got %v", line["service"])
	}
	if line["tenant_id"] != "t-1" {
		t.Fatalf("expected tenant_id field, got %v", line["tenant_id"])
	}
}
