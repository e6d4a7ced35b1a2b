package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported besides "".
const ServiceName = "smartrecall"

const defaultSyncInterval = 10 * time.Second

var errConnectionShutdown = errors.New("connection shutdown")

// GRPCServer serves grpc.health.v1.Health, mirroring the aggregator's
// overall status. Degraded counts as serving.
type GRPCServer struct {
	agg      *Aggregator
	health   *grpchealth.Server
	server   *grpc.Server
	interval time.Duration
}

// NewGRPCServer creates the server. interval controls how often checks rerun.
func NewGRPCServer(agg *Aggregator, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCServer{agg: agg, health: hs, server: srv, interval: interval}
}

// Sync runs the checks once and publishes the resulting serving status.
func (s *GRPCServer) Sync(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if OverallStatus(s.agg.CheckAll(ctx)) == StatusUnhealthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve blocks serving on lis until ctx is canceled or the listener fails.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.Sync(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sync(ctx)
			}
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	err := s.server.Serve(lis)
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc health serve: %w", err)
	}
	return nil
}

// Probe dials addr and asks for the serving status of service.
func Probe(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Warn("failed to close gRPC connection", "error", closeErr)
		}
	}()

	if err := waitForReady(ctx, conn); err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("%s not ready: %w", addr, err)
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}
