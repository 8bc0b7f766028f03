package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewDebugInLocal(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "local", "")
	l.Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("expected debug line in local env, got %q", buf.String())
	}
}

func TestNewExplicitLevelWins(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "local", "warn")
	l.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn, got %q", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	l := Discard()
	ctx := With(context.Background(), l)
	if From(ctx) != l {
		t.Fatalf("expected stored logger")
	}
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger fallback")
	}
}
