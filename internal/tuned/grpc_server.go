package tuned

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the gRPC health service name reporting the tuning loop
const HealthService = "tuner.Controller"

// NewGRPCServer builds a gRPC server exposing the standard health protocol.
// HealthService is SERVING while the run is in PhaseRunning and NOT_SERVING
// otherwise; the overall server status ("") stays SERVING until shutdown.
func NewGRPCServer(progress *ProgressStore, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	hs.SetServingStatus(HealthService, servingStatus(progress.Snapshot().Phase))
	progress.Watch(func(p Progress) {
		hs.SetServingStatus(HealthService, servingStatus(p.Phase))
	})
	return srv, hs
}

func servingStatus(phase Phase) healthpb.HealthCheckResponse_ServingStatus {
	if phase == PhaseRunning {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
