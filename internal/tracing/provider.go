// Package tracing wires OpenTelemetry spans for agent task processing,
// kernel cycles and the status RPC surface.
package tracing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "autopoiesis"

// Setup installs a global TracerProvider that batches spans into
// <dir>/<session>.jsonl. The returned function flushes and closes the file.
func Setup(dir, session, service string) (shutdown func(context.Context) error, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}

	exporter, err := NewJSONLExporter(filepath.Join(dir, session+".jsonl"))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithBatchTimeout(2*time.Second),
		)),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", service),
		)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the package tracer. Without Setup it is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Attribute keys used on agent and kernel spans.
const (
	KeyAgentID    = attribute.Key("agent.id")
	KeyTask       = attribute.Key("agent.task")
	KeyMode       = attribute.Key("agent.mode")
	KeyDecomposed = attribute.Key("agent.decomposed")
	KeyLoop       = attribute.Key("kernel.loop")
)
