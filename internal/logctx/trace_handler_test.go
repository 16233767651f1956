package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func captureLog(t *testing.T, ctx context.Context) map[string]any {
	t.Helper()

	var buf bytes.Buffer

	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	logger.InfoContext(ctx, "test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}

	return entry
}

// Logs without a span context must not carry trace_id or span_id fields.
func TestTraceHandler_NoSpanContext(t *testing.T) {
	entry := captureLog(t, context.Background())

	if _, exists := entry["trace_id"]; exists {
		t.Errorf("trace_id should not be present without a span, got: %v", entry["trace_id"])
	}

	if _, exists := entry["span_id"]; exists {
		t.Errorf("span_id should not be present without a span, got: %v", entry["span_id"])
	}

	if entry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got: %v", entry["msg"])
	}
}

func TestTraceHandler_WithSpanContext(t *testing.T) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanID:  trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
	})

	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	entry := captureLog(t, ctx)

	if entry["trace_id"] != spanCtx.TraceID().String() {
		t.Errorf("expected trace_id=%s, got: %v", spanCtx.TraceID(), entry["trace_id"])
	}

	if entry["span_id"] != spanCtx.SpanID().String() {
		t.Errorf("expected span_id=%s, got: %v", spanCtx.SpanID(), entry["span_id"])
	}
}
