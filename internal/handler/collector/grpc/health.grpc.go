package grpc

import (
	"github.com/krobus00/market-collector/internal/constant"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/service/collector"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type healthSetter interface {
	SetServingStatus(service string, servingStatus healthpb.HealthCheckResponse_ServingStatus)
}

// HealthReporter mirrors link states into the grpc health service under
// collector.<exchange>.
type HealthReporter struct {
	health healthSetter
}

func NewHealthReporter(health healthSetter) *HealthReporter {
	return &HealthReporter{health: health}
}

// Register marks every link as not serving until its first subscription.
func (r *HealthReporter) Register(exchanges ...entity.ExchangeName) {
	for _, exchange := range exchanges {
		r.health.SetServingStatus(constant.GetLinkHealthServiceName(string(exchange)), healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

func (r *HealthReporter) Listener() collector.StatusListener {
	return func(exchange entity.ExchangeName, state entity.SessionState) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if state == entity.SessionStateSubscribed {
			status = healthpb.HealthCheckResponse_SERVING
		}
		r.health.SetServingStatus(constant.GetLinkHealthServiceName(string(exchange)), status)
	}
}
