// Package grpc hosts the gRPC health endpoint the gatekeeper exposes next to
// its HTTP surface, and the probe used by container health checks.
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves grpc.health.v1 for the process and a set of named
// components.
type HealthServer struct {
	server *gogrpc.Server
	health *health.Server
}

// NewHealthServer builds a health server. The overall status and every
// component start NOT_SERVING until MarkServing is called.
func NewHealthServer(components ...string) *HealthServer {
	server := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	for _, component := range components {
		healthServer.SetServingStatus(component, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return &HealthServer{server: server, health: healthServer}
}

// MarkServing flips the overall status and the given components to SERVING.
func (s *HealthServer) MarkServing(components ...string) {
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	for _, component := range components {
		s.health.SetServingStatus(component, grpc_health_v1.HealthCheckResponse_SERVING)
	}
}

// MarkNotServing reports a component as unavailable.
func (s *HealthServer) MarkNotServing(component string) {
	s.health.SetServingStatus(component, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Serve blocks serving on listener until Stop is called.
func (s *HealthServer) Serve(listener net.Listener) error {
	return s.server.Serve(listener)
}

// Stop reports NOT_SERVING to watchers and drains the server.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// WaitForHealth blocks until the health check of service reports SERVING or
// ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	client := grpc_health_v1.NewHealthClient(conn)
	backoff := 200 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		response, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			return nil
		}
		if logf != nil {
			if err != nil {
				logf("waiting for gRPC health: %v", err)
			} else {
				logf("waiting for gRPC health: status %s", response.GetStatus())
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, time.Second)
	}
}
