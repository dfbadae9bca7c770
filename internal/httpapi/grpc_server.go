package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth serves grpc.health.v1.Health from the readiness probe. Check
// re-probes on every call; Watch clients see updates pushed by Run.
type GRPCHealth struct {
	*health.Server
	ready ReadinessChecker
	log   *zap.Logger
}

// NewGRPCHealth returns a health service backed by ready.
func NewGRPCHealth(ready ReadinessChecker, log *zap.Logger) *GRPCHealth {
	if ready == nil {
		ready = ReadyProbe{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GRPCHealth{Server: health.NewServer(), ready: ready, log: log}
}

// Refresh probes readiness and publishes the result for the overall server and
// for the named API service.
func (h *GRPCHealth) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if err := h.ready.Check(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		h.log.Warn("readiness check failed", zap.Error(err))
	}
	h.SetServingStatus("", st)
	h.SetServingStatus(serviceName, st)
	return st
}

func (h *GRPCHealth) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	h.Refresh(probeCtx)
	cancel()
	return h.Server.Check(ctx, req)
}

// Run refreshes the status every interval until ctx ends, then marks the
// server as shutting down.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		h.Refresh(ctx)
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-t.C:
		}
	}
}

// NewGRPCServer builds a gRPC server exposing the health service.
func NewGRPCServer(h *GRPCHealth, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h)
	return srv
}
