package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// TestServer_Lifecycle walks NOT_SERVING, SERVING, then shutdown.
func TestServer_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewServer()

	got, err := s.Check(ctx, ServiceName)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, got)

	s.SetServing(ctx)

	for _, service := range []string{"", ServiceName} {
		got, err = s.Check(ctx, service)
		require.NoError(t, err)
		require.Equal(t, healthpb.HealthCheckResponse_SERVING, got)
	}

	s.Shutdown(ctx)
	s.SetServing(ctx)

	got, err = s.Check(ctx, ServiceName)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, got)
}

// TestServer_UnknownService returns NotFound for unregistered names.
func TestServer_UnknownService(t *testing.T) {
	t.Parallel()

	_, err := NewServer().Check(context.Background(), "other")
	require.Equal(t, codes.NotFound, status.Code(err))
}
