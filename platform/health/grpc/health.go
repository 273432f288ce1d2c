package grpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Health wraps the standard gRPC health service so readiness can be switched
// after dependencies are checked and back again during shutdown.
type Health struct {
	srv *health.Server
}

// New creates Health with the given overall status. Start with NOT_SERVING and
// call SetServing once the store and bus are reachable.
func New(initialStatus grpc_health_v1.HealthCheckResponse_ServingStatus) *Health {
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", initialStatus)
	return &Health{srv: healthServer}
}

// Register must be called before grpcSrv.Serve.
func (h *Health) Register(grpcSrv *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcSrv, h.srv)
}

// SetServing marks serviceName (or the whole server for "") as SERVING.
func (h *Health) SetServing(serviceName string) {
	h.srv.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
}

// SetNotServing marks serviceName (or the whole server for "") as NOT_SERVING.
func (h *Health) SetNotServing(serviceName string) {
	h.srv.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Server exposes the underlying health server, mostly for tests.
func (h *Health) Server() grpc_health_v1.HealthServer {
	return h.srv
}
