// Package healthcheck serves the standard gRPC health protocol for the gateway.
package healthcheck

import (
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/tomato-check/internal/logging"
)

// Service names reported next to the overall "" service.
const (
	ServiceBackend = "backend"
	ServiceCamera  = "camera"
)

// Server wraps a grpc.Server that only exposes health checks.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// New creates a health server. The overall status and the backend start SERVING; the camera
// starts NOT_SERVING until a probe reports it available.
func New(logger *zap.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger.Named("healthcheck"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceBackend, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceCamera, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetServing flips the status of a named service.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
	s.logger.Debug("health status changed", zap.String("service", service), zap.String("status", status.String()))
}

// Serve blocks serving lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil {
		return logging.NewOperationError("healthcheck.serve", "", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains the server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
