package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
	}{
		{
			name:        "create logger with service name",
			serviceName: "test-service",
		},
		{
			name:        "create logger with empty service name",
			serviceName: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.serviceName)

			if logger == nil {
				t.Fatal("New() returned nil logger")
			}
			if logger.service != tt.serviceName {
				t.Errorf("New() service = %q, want %q", logger.service, tt.serviceName)
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	// Set up test tracer for trace ID extraction
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	tests := []struct {
		name     string
		hasTrace bool
	}{
		{name: "with trace context", hasTrace: true},
		{name: "without trace context", hasTrace: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New("test-service")
			ctx := context.Background()
			if tt.hasTrace {
				var span oteltrace.Span
				ctx, span = tp.Tracer("test").Start(ctx, "test-span")
				defer span.End()
			}

			entry := logger.WithContext(ctx)
			if entry.Service != "test-service" {
				t.Errorf("entry.Service = %q, want %q", entry.Service, "test-service")
			}
			if tt.hasTrace && entry.TraceID == "" {
				t.Error("entry.TraceID is empty with active span")
			}
			if !tt.hasTrace && entry.TraceID != "" {
				t.Errorf("entry.TraceID = %q, want empty", entry.TraceID)
			}
		})
	}
}

func TestLogEntry_FluentSetters(t *testing.T) {
	logger := New("test-service")

	entry := logger.Plain().
		WithTask("task-1").
		WithSubscription("sub-1").
		WithTraceID("trace-1").
		WithField("key", "value").
		WithFields(map[string]any{"count": 2}).
		WithError(errors.New("boom"))

	if entry.TaskID != "task-1" {
		t.Errorf("TaskID = %q, want %q", entry.TaskID, "task-1")
	}
	if entry.SubscriptionID != "sub-1" {
		t.Errorf("SubscriptionID = %q, want %q", entry.SubscriptionID, "sub-1")
	}
	if entry.TraceID != "trace-1" {
		t.Errorf("TraceID = %q, want %q", entry.TraceID, "trace-1")
	}
	if entry.Fields["key"] != "value" {
		t.Errorf("Fields[key] = %v, want value", entry.Fields["key"])
	}
	if entry.Fields["count"] != 2 {
		t.Errorf("Fields[count] = %v, want 2", entry.Fields["count"])
	}
	if entry.Fields["error"] != "boom" {
		t.Errorf("Fields[error] = %v, want boom", entry.Fields["error"])
	}
}

func TestLogEntry_WithErrorNil(t *testing.T) {
	entry := New("test-service").Plain().WithError(nil)
	if _, ok := entry.Fields["error"]; ok {
		t.Error("WithError(nil) added an error field")
	}
}

// captureStdout runs fn while stdout is redirected and returns what was written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	w.Close()

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestLogEntry_OutputIsJSON(t *testing.T) {
	out := captureStdout(t, func() {
		New("test-service").Plain().WithTask("task-7").WithField("pid", 42).Info("process started")
	})

	var entry LogEntry
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, out)
	}
	if entry.Level != LevelInfo {
		t.Errorf("level = %q, want %q", entry.Level, LevelInfo)
	}
	if entry.Message != "process started" {
		t.Errorf("msg = %q, want %q", entry.Message, "process started")
	}
	if entry.Service != "test-service" {
		t.Errorf("service = %q, want %q", entry.Service, "test-service")
	}
	if entry.TaskID != "task-7" {
		t.Errorf("task_id = %q, want %q", entry.TaskID, "task-7")
	}
	if entry.Fields["pid"] != float64(42) {
		t.Errorf("fields.pid = %v, want 42", entry.Fields["pid"])
	}
}

func TestLogEntry_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(e *LogEntry)
		level LogLevel
	}{
		{name: "debug", log: func(e *LogEntry) { e.Debug("m") }, level: LevelDebug},
		{name: "debugf", log: func(e *LogEntry) { e.Debugf("m %d", 1) }, level: LevelDebug},
		{name: "info", log: func(e *LogEntry) { e.Info("m") }, level: LevelInfo},
		{name: "infof", log: func(e *LogEntry) { e.Infof("m %d", 1) }, level: LevelInfo},
		{name: "warn", log: func(e *LogEntry) { e.Warn("m") }, level: LevelWarn},
		{name: "error", log: func(e *LogEntry) { e.Error("m") }, level: LevelError},
		{name: "errorf", log: func(e *LogEntry) { e.Errorf("m %d", 1) }, level: LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureStdout(t, func() {
				tt.log(New("svc").Plain())
			})
			var entry LogEntry
			if err := json.Unmarshal([]byte(out), &entry); err != nil {
				t.Fatalf("log output is not JSON: %v", err)
			}
			if entry.Level != tt.level {
				t.Errorf("level = %q, want %q", entry.Level, tt.level)
			}
		})
	}
}

func TestSetDefaultService(t *testing.T) {
	SetDefaultService("renamed")
	defer SetDefaultService("harborrun")

	entry := Plain()
	if entry.Service != "renamed" {
		t.Errorf("default entry service = %q, want %q", entry.Service, "renamed")
	}
}
