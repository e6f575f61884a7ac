package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func readRecords(t *testing.T, path string) []SpanRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var recs []SpanRecord
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec SpanRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal line %q: %v", line, err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func TestExportSpans_WritesValidJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.jsonl")
	exporter, err := NewJSONLExporter(path)
	if err != nil {
		t.Fatalf("NewJSONLExporter: %v", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	ctx, parent := tp.Tracer("test").Start(context.Background(), "kernel.self_preservation",
		trace.WithAttributes(KeyLoop.String("self_preservation")),
	)
	_, child := tp.Tracer("test").Start(ctx, "agent.process_task",
		trace.WithAttributes(KeyAgentID.String("a1"), KeyTask.String("analyze")),
	)
	child.AddEvent("subagent_created")
	child.SetStatus(codes.Ok, "")
	child.End()
	parent.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	recs := readRecords(t, path)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	rec := recs[0]
	if rec.Operation != "agent.process_task" {
		t.Errorf("operation = %q, want agent.process_task", rec.Operation)
	}
	if rec.Status != "ok" {
		t.Errorf("status = %q, want ok", rec.Status)
	}
	if rec.ParentSpanID != recs[1].SpanID {
		t.Errorf("parent = %q, want %q", rec.ParentSpanID, recs[1].SpanID)
	}
	if rec.Attributes["agent.id"] != "a1" || rec.Attributes["agent.task"] != "analyze" {
		t.Errorf("attributes = %v", rec.Attributes)
	}
	if len(rec.Events) != 1 || rec.Events[0] != "subagent_created" {
		t.Errorf("events = %v", rec.Events)
	}
	if _, err := time.Parse(time.RFC3339Nano, rec.StartTime); err != nil {
		t.Errorf("start_time %q not valid RFC3339Nano: %v", rec.StartTime, err)
	}
	if rec.DurationMS < 0 {
		t.Errorf("duration_ms = %d, want >= 0", rec.DurationMS)
	}
}

func TestExportSpans_EmptySlice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	exporter, err := NewJSONLExporter(path)
	if err != nil {
		t.Fatalf("NewJSONLExporter: %v", err)
	}

	if err := exporter.ExportSpans(context.Background(), nil); err != nil {
		t.Fatalf("ExportSpans(nil): %v", err)
	}
	exporter.Shutdown(context.Background())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty file, got %d bytes", len(data))
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	exporter, err := NewJSONLExporter(filepath.Join(t.TempDir(), "x.jsonl"))
	if err != nil {
		t.Fatalf("NewJSONLExporter: %v", err)
	}
	if err := exporter.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := exporter.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestEndRecordsGRPCStatus(t *testing.T) {
	mem := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(mem))

	_, span := tp.Tracer("test").Start(context.Background(), "/grpc.health.v1.Health/Check")
	End(span, status.Error(grpccodes.NotFound, "unknown service"))

	_, okSpan := tp.Tracer("test").Start(context.Background(), "ok")
	End(okSpan, nil)

	spans := mem.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status.Code)
	}
	var found bool
	for _, kv := range spans[0].Attributes {
		if kv.Key == "rpc.grpc.status_code" && kv.Value.AsString() == "NotFound" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing rpc.grpc.status_code attribute: %v", spans[0].Attributes)
	}
	if spans[1].Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[1].Status.Code)
	}
}

func TestSplitMethod(t *testing.T) {
	svc, m := splitMethod("/grpc.health.v1.Health/Check")
	if svc != "grpc.health.v1.Health" || m != "Check" {
		t.Errorf("splitMethod = %q, %q", svc, m)
	}
	attrs := rpcAttributes(context.Background(), "/a.B/C")
	want := attribute.String("rpc.method", "C")
	if len(attrs) != 3 || attrs[2] != want {
		t.Errorf("rpcAttributes = %v, want rpc.method %v", attrs, want)
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("user-agent", "probe/1.0"))
	attrs = rpcAttributes(ctx, "/a.B/C")
	if len(attrs) != 4 || attrs[3] != attribute.String("user_agent.original", "probe/1.0") {
		t.Errorf("rpcAttributes with metadata = %v", attrs)
	}
}

func TestSetupWritesSessionFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "otel")
	shutdown, err := Setup(dir, "session", "test")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "probe")
	End(span, errors.New("x"))
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	recs := readRecords(t, filepath.Join(dir, "session.jsonl"))
	if len(recs) != 1 || recs[0].Status != "error" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}
