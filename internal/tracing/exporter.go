package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanRecord is the JSONL schema written by JSONLExporter.
type SpanRecord struct {
	TraceID       string            `json:"trace_id"`
	SpanID        string            `json:"span_id"`
	ParentSpanID  string            `json:"parent_span_id,omitempty"`
	Operation     string            `json:"operation"`
	Kind          string            `json:"kind"`
	StartTime     string            `json:"start_time"`
	EndTime       string            `json:"end_time"`
	DurationMS    int64             `json:"duration_ms"`
	Status        string            `json:"status"`
	StatusMessage string            `json:"status_message,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Events        []string          `json:"events,omitempty"`
}

// JSONLExporter implements sdktrace.SpanExporter, one JSON object per line.
type JSONLExporter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewJSONLExporter appends span records to the file at path.
func NewJSONLExporter(path string) (*JSONLExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace log: %w", err)
	}
	return &JSONLExporter{
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// ExportSpans writes each span as a JSON line. It is a no-op after Shutdown.
func (e *JSONLExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.writer == nil {
		return nil
	}

	enc := json.NewEncoder(e.writer)
	for _, span := range spans {
		if err := enc.Encode(toRecord(span)); err != nil {
			return fmt.Errorf("encode span %s: %w", span.Name(), err)
		}
	}
	return e.writer.Flush()
}

// Shutdown flushes pending data and closes the file.
func (e *JSONLExporter) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file == nil {
		return nil
	}
	flushErr := e.writer.Flush()
	closeErr := e.file.Close()
	e.file = nil
	e.writer = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func toRecord(s sdktrace.ReadOnlySpan) SpanRecord {
	var parentID string
	if p := s.Parent(); p.HasSpanID() {
		parentID = p.SpanID().String()
	}

	attrs := make(map[string]string, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}

	var events []string
	for _, ev := range s.Events() {
		events = append(events, ev.Name)
	}

	start, end := s.StartTime(), s.EndTime()
	return SpanRecord{
		TraceID:       s.SpanContext().TraceID().String(),
		SpanID:        s.SpanContext().SpanID().String(),
		ParentSpanID:  parentID,
		Operation:     s.Name(),
		Kind:          s.SpanKind().String(),
		StartTime:     start.Format(time.RFC3339Nano),
		EndTime:       end.Format(time.RFC3339Nano),
		DurationMS:    end.Sub(start).Milliseconds(),
		Status:        statusName(s.Status().Code),
		StatusMessage: s.Status().Description,
		Attributes:    attrs,
		Events:        events,
	}
}

func statusName(c codes.Code) string {
	switch c {
	case codes.Error:
		return "error"
	case codes.Ok:
		return "ok"
	default:
		return "unset"
	}
}
