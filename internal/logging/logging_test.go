package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestFromContextReturnsStoredLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil)).With("request_id", "req-1")
	ctx := NewContext(context.Background(), logger)

	FromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), `"request_id":"req-1"`) {
		t.Fatalf("expected request_id in output, got %s", buf.String())
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) != slog.Default() {
		t.Fatal("expected default logger")
	}
}
