package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix prefixes the per-platform gRPC health service names
const ServicePrefix = "botsupervisor."

// ServiceName is the gRPC health service name of a platform
func ServiceName(platform string) string {
	return ServicePrefix + platform
}

// PlatformStatus returns the last reconcile error of each platform; nil means healthy
type PlatformStatus func() map[string]error

// GRPCHealth serves grpc.health.v1.Health with one service per platform
// plus the overall "" service.
type GRPCHealth struct {
	server *grpc.Server
	health *grpchealth.Server
	port   int
	logger *zap.Logger
}

// NewGRPCHealth creates the server; every service starts NOT_SERVING
func NewGRPCHealth(port int, platforms []string, logger *zap.Logger) *GRPCHealth {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for _, p := range platforms {
		hs.SetServingStatus(ServiceName(p), healthpb.HealthCheckResponse_NOT_SERVING)
	}

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	return &GRPCHealth{
		server: server,
		health: hs,
		port:   port,
		logger: logger,
	}
}

// Server exposes the underlying health server
func (g *GRPCHealth) Server() healthpb.HealthServer {
	return g.health
}

// Serve blocks serving on the configured port
func (g *GRPCHealth) Serve() error {
	addr := fmt.Sprintf(":%d", g.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	g.logger.Info("Starting gRPC health server", zap.String("address", addr))
	return g.server.Serve(listener)
}

// Update sets each platform's serving status from its last reconcile and the dependency checks
func (g *GRPCHealth) Update(ctx context.Context, checker *HealthChecker, platforms PlatformStatus) {
	_, healthy := checker.Check(ctx)
	g.set("", healthy)
	for platform, err := range platforms() {
		g.set(ServiceName(platform), healthy && err == nil)
	}
}

// Monitor calls Update every interval until ctx is done
func (g *GRPCHealth) Monitor(ctx context.Context, interval time.Duration, checker *HealthChecker, platforms PlatformStatus) {
	g.Update(ctx, checker, platforms)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Update(ctx, checker, platforms)
		}
	}
}

func (g *GRPCHealth) set(service string, serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(service, status)
}

// Shutdown marks every service NOT_SERVING and stops the server within ctx
func (g *GRPCHealth) Shutdown(ctx context.Context) {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		g.logger.Info("gRPC health server stopped gracefully")
	case <-ctx.Done():
		g.logger.Warn("gRPC health server stop timeout, forcing shutdown")
		g.server.Stop()
	}
}
