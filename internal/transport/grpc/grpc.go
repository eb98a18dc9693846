// Package grpc implements the gRPC transport for ihear.
//
// The server carries the standard gRPC health service, reporting whether
// sessions can be served, plus server reflection so grpcurl and load
// balancers can probe it without generated stubs.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-checked service for session traffic.
const ServiceName = "ihear.v1.Sessions"

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port   int
	server *grpc.Server
	health *health.Server
}

// New creates a new gRPC transport on the given port.
func New(port int) *Transport {
	t := &Transport{
		port:   port,
		server: grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(t.server, t.health)
	reflection.Register(t.server)
	t.SetServing(false)
	return t
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// SetServing flips the reported health of the server and the session service.
func (t *Transport) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	t.health.SetServingStatus("", status)
	t.health.SetServingStatus(ServiceName, status)
}

// Listen binds the configured port and serves until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return t.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (t *Transport) Serve(ctx context.Context, lis net.Listener) error {
	slog.Info("grpc transport listening", "addr", lis.Addr().String())
	t.SetServing(true)

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		t.health.Shutdown()
		t.server.GracefulStop()
	}()

	if err := t.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	t.health.Shutdown()
	t.server.GracefulStop()
	return nil
}
