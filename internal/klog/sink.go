package klog

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sink receives log records that should outlive the console, such as
// warnings about low energy or axiom violations.
type Sink interface {
	RecordLog(ts time.Time, level, component, message string, fields map[string]string)
}

// sinkHandler forwards records at or above minLevel to a Sink.
type sinkHandler struct {
	sink      Sink
	component string
	attrs     []slog.Attr
	minLevel  slog.Level
}

// NewSinkHandler creates a handler that forwards records at minLevel or above.
func NewSinkHandler(sink Sink, minLevel slog.Level) slog.Handler {
	return &sinkHandler{sink: sink, minLevel: minLevel}
}

func (h *sinkHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *sinkHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]string)
	for _, a := range h.attrs {
		fields[a.Key] = fmt.Sprint(a.Value.Any())
	}
	component := h.component
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			fields[a.Key] = fmt.Sprint(a.Value.Any())
		}
		return true
	})

	h.sink.RecordLog(r.Time, levelName(r.Level), component, r.Message, fields)
	return nil
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &sinkHandler{sink: h.sink, component: h.component, minLevel: h.minLevel}
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if a.Key == "component" {
			next.component = a.Value.String()
			continue
		}
		next.attrs = append(next.attrs, a)
	}
	return next
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	comp := name
	if h.component != "" {
		comp = h.component + "." + name
	}
	return &sinkHandler{sink: h.sink, component: comp, attrs: h.attrs, minLevel: h.minLevel}
}

var _ slog.Handler = (*sinkHandler)(nil)

// AttachSink adds a Sink to the global logger for records at WARN and above.
// Call after Init.
func AttachSink(sink Sink) {
	mu.Lock()
	defer mu.Unlock()

	current := slog.Default().Handler()
	h := NewSinkHandler(sink, slog.LevelWarn)

	if f, ok := current.(*fanout); ok {
		hs := append(append([]slog.Handler(nil), f.handlers...), h)
		slog.SetDefault(slog.New(&fanout{handlers: hs}))
		return
	}
	slog.SetDefault(slog.New(&fanout{handlers: []slog.Handler{current, h}}))
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
