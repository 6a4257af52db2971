package auth

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/jrsteele09/go-oidc-testapp/auth"

	MetricTokenRefresh = "oidc_token_refresh_total"
	MetricLogin        = "oidc_login_total"

	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type metrics struct {
	refreshes metric.Int64Counter
	logins    metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(meterName)

	refreshes, err := meter.Int64Counter(MetricTokenRefresh,
		metric.WithDescription("Token refresh attempts by outcome"))
	if err != nil {
		return nil, err
	}
	logins, err := meter.Int64Counter(MetricLogin,
		metric.WithDescription("Completed authorization callbacks by outcome"))
	if err != nil {
		return nil, err
	}
	return &metrics{refreshes: refreshes, logins: logins}, nil
}

func (m *metrics) refresh(ctx context.Context, outcome string) {
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) login(ctx context.Context, outcome string) {
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
