package httpapi

import (
	"context"

	"agrotrace.org/internal/obs"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "agrotrace-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer exposes the standard gRPC health protocol so orchestrators
// can probe the service without speaking HTTP.
type GRPCServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness readinessChecker
	version   string
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(r readinessChecker, version string) *GRPCServer {
	return &GRPCServer{
		readiness: r,
		version:   version,
	}
}

// Check evaluates readiness. Unready maps to NOT_SERVING, not an error,
// per the health protocol.
func (s *GRPCServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

// RegisterGRPC attaches the health service to a grpc.Server.
func RegisterGRPC(server *grpc.Server, srv *GRPCServer) {
	grpc_health_v1.RegisterHealthServer(server, srv)
}
