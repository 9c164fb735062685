// Package server exposes the executor's lifecycle over the standard gRPC
// health protocol. The sheetflow.executor service reports SERVING while the
// executor admits work and NOT_SERVING once it starts draining.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var log = slog.Default()

// ServiceName is the health service reflecting executor state.
const ServiceName = "sheetflow.executor"

// Lifecycle is the part of the executor the health server watches.
type Lifecycle interface {
	Draining() <-chan struct{}
	Done() <-chan struct{}
}

// Server is a gRPC server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	exec   Lifecycle
}

// New creates a Server reporting SERVING for ServiceName and the overall
// server.
func New(exec Lifecycle) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpc: gs, health: hs, exec: exec}
}

// Watch flips ServiceName to NOT_SERVING when the executor starts draining,
// and every service to NOT_SERVING once it has terminated. It returns when
// the executor terminates or ctx is done.
func (s *Server) Watch(ctx context.Context) {
	select {
	case <-s.exec.Draining():
		s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		log.Info("Health: executor draining", "service", ServiceName)
	case <-s.exec.Done():
	case <-ctx.Done():
		return
	}

	select {
	case <-s.exec.Done():
		s.health.Shutdown()
		log.Info("Health: executor terminated")
	case <-ctx.Done():
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	log.Info("Health server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Stop finishes in-flight RPCs and stops the server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Probe dials addr and checks service. An empty service asks for the overall
// server status.
func Probe(ctx context.Context, addr, service string, opts ...grpc.DialOption) (*healthpb.HealthCheckResponse, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	return Check(ctx, conn, service)
}

// Check queries the health service over an existing connection.
func Check(ctx context.Context, conn grpc.ClientConnInterface, service string) (*healthpb.HealthCheckResponse, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return nil, fmt.Errorf("health check %q: %w", service, err)
	}
	return resp, nil
}
