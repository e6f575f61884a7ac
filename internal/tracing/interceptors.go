package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// splitMethod turns "/grpc.health.v1.Health/Check" into service and method.
func splitMethod(fullMethod string) (service, method string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	if idx := strings.LastIndex(fullMethod, "/"); idx >= 0 {
		return fullMethod[:idx], fullMethod[idx+1:]
	}
	return fullMethod, ""
}

func rpcAttributes(ctx context.Context, fullMethod string) []attribute.KeyValue {
	service, method := splitMethod(fullMethod)
	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ua := md.Get("user-agent"); len(ua) > 0 {
			attrs = append(attrs, attribute.String("user_agent.original", ua[0]))
		}
	}
	return attrs
}

// End finishes span with an ok or error status.
func End(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if st, ok := status.FromError(err); ok {
		span.SetAttributes(attribute.String("rpc.grpc.status_code", st.Code().String()))
	}
}

// UnaryServerInterceptor creates a server span per unary RPC.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, span := Tracer().Start(ctx, info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(rpcAttributes(ctx, info.FullMethod)...),
		)
		resp, err := handler(ctx, req)
		End(span, err)
		return resp, err
	}
}

// StreamServerInterceptor creates a server span per streaming RPC
// (health Watch streams, for instance).
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span := Tracer().Start(ss.Context(), info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(rpcAttributes(ss.Context(), info.FullMethod)...),
		)
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		End(span, err)
		return err
	}
}

// tracedStream carries the span context into the stream handler.
type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context {
	return s.ctx
}
