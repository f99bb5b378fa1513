package logging

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		" warn ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithOperationAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	WithOperation(logger, "session.analyze", "req-1").Info("done")
	WithOperation(logger, "camera.status", "").Info("probe")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if first["operation"] != "session.analyze" || first["request_id"] != "req-1" {
		t.Fatalf("unexpected fields: %v", first)
	}
	if _, ok := entries[1].ContextMap()["request_id"]; ok {
		t.Fatal("empty request id should not be logged")
	}
}

func TestOperationErrorUnwraps(t *testing.T) {
	err := NewOperationError("backend.analyze_image", "req-9", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected errors.Is to see the cause, got %v", err)
	}
	if got := err.Error(); got != "backend.analyze_image (request_id=req-9): context deadline exceeded" {
		t.Fatalf("unexpected message: %s", got)
	}
	if NewOperationError("noop", "", nil) != nil {
		t.Fatal("nil cause must stay nil")
	}
}
