package api

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/davehusk/millennium-qecc/internal/klog"
	"github.com/davehusk/millennium-qecc/internal/tracing"
)

// ServiceName is the health service name clients can query in addition to
// the server-wide "" entry.
const ServiceName = "autopoiesis"

// HealthServer publishes axiom compliance over grpc.health.v1.
type HealthServer struct {
	src    StatusSource
	srv    *grpc.Server
	health *health.Server
}

// NewHealthServer creates a gRPC server with tracing interceptors and the
// health service registered. Status starts NOT_SERVING until the first
// Refresh.
func NewHealthServer(src StatusSource) *HealthServer {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(tracing.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(tracing.StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &HealthServer{src: src, srv: srv, health: hs}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *HealthServer) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Refresh recomputes the serving status from a health snapshot.
func (s *HealthServer) Refresh() healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if !s.src.HealthCheck().AxiomCompliance {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.set(st)
	return st
}

// Watch refreshes the status every interval until ctx is cancelled.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
		}
	}
}

// Server returns the underlying gRPC server.
func (s *HealthServer) Server() *grpc.Server {
	return s.srv
}

// Serve listens on addr ("host:port" or "unix:///path") and serves until
// ctx is cancelled. Health status is refreshed every interval.
func (s *HealthServer) Serve(ctx context.Context, addr string, interval time.Duration) error {
	network, address := "tcp", addr
	if strings.HasPrefix(addr, "unix://") {
		network, address = "unix", strings.TrimPrefix(addr, "unix://")
	}
	lis, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis, interval)
}

// ServeListener is Serve on an existing listener.
func (s *HealthServer) ServeListener(ctx context.Context, lis net.Listener, interval time.Duration) error {
	watchCtx, cancel := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		s.Watch(watchCtx, interval)
		close(watchDone)
	}()
	defer func() {
		cancel()
		<-watchDone
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(lis)
	}()
	klog.For("api").Info("grpc health listening", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("grpc health server: %w", err)
	case <-ctx.Done():
	}

	s.health.Shutdown()
	s.srv.GracefulStop()
	<-errCh
	return nil
}
