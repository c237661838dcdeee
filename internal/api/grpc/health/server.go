package health

import (
	"context"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/release-server/internal/logger"
)

// ServiceName is the service reported alongside the overall ("") status.
const ServiceName = "release-server"

// Server tracks the serving status of the process.
type Server struct {
	// health is the upstream status registry.
	health *grpchealth.Server
}

// NewServer returns a server reporting NOT_SERVING until SetServing is called.
func NewServer() *Server {
	s := &Server{health: grpchealth.NewServer()}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)

	return s
}

// Register attaches the health service to a gRPC server.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(registrar, s.health)
}

// SetServing marks the process ready.
func (s *Server) SetServing(ctx context.Context) {
	s.set(healthpb.HealthCheckResponse_SERVING)
	logger.Debug(ctx, "Health status set to SERVING")
}

// Shutdown reports NOT_SERVING for good. Later SetServing calls are ignored.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	logger.Debug(ctx, "Health status set to NOT_SERVING")
}

// Check answers a probe in process, without a network round trip.
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}

	return resp.GetStatus(), nil
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
