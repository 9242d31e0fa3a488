package probe

import (
	"context"

	"github.com/alechenninger/gatehouse/internal/gateway"
	"github.com/alechenninger/gatehouse/internal/metrics"
	"github.com/alechenninger/gatehouse/internal/request"
)

// NewMetricsGatewayObserver counts decisions by kind and status
func NewMetricsGatewayObserver(m *metrics.Metrics) gateway.Observer {
	return &metricsObserver{metrics: m}
}

type metricsObserver struct {
	metrics *metrics.Metrics
}

func (o *metricsObserver) AuthorizationStarted(ctx context.Context, _ gateway.Operation, _ *request.Request) (context.Context, gateway.AuthorizationProbe) {
	return ctx, &metricsProbe{metrics: o.metrics}
}

type metricsProbe struct {
	gateway.NoOpProbe
	metrics *metrics.Metrics
}

func (p *metricsProbe) Decided(d gateway.Decision) {
	p.metrics.Decision(d.Kind.String(), d.StatusCode)
}
