package grpc

import (
	"context"
	"testing"

	"github.com/krobus00/market-collector/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func checkStatus(t *testing.T, server *health.Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthReporter(t *testing.T) {
	server := health.NewServer()
	reporter := NewHealthReporter(server)
	reporter.Register(entity.ExchangeCoinbase, entity.ExchangeFiri)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, server, "collector.coinbase"))

	listener := reporter.Listener()
	listener(entity.ExchangeCoinbase, entity.SessionStateSubscribed)
	listener(entity.ExchangeFiri, entity.SessionStateDegraded)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, server, "collector.coinbase"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, server, "collector.firi"))

	listener(entity.ExchangeCoinbase, entity.SessionStateClosed)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, server, "collector.coinbase"))
}
