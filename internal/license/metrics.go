package license

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments for license operations.
// Key generation is not instrumented: it happens in the one-shot issuer
// CLI, outside the daemon's metrics pipeline.
type Metrics struct {
	decodeTotal     metric.Int64Counter
	activationTotal metric.Int64Counter
}

// NewMetrics registers the license instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	decodeTotal, err := meter.Int64Counter("salepoint_license_decode_total",
		metric.WithDescription("License key decode attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("license metrics: %w", err)
	}
	activationTotal, err := meter.Int64Counter("salepoint_license_activation_total",
		metric.WithDescription("License activation attempts by result code"))
	if err != nil {
		return nil, fmt.Errorf("license metrics: %w", err)
	}
	return &Metrics{
		decodeTotal:     decodeTotal,
		activationTotal: activationTotal,
	}, nil
}

// RecordDecode counts one decode by outcome.
func (m *Metrics) RecordDecode(ctx context.Context, status Status) {
	if m == nil {
		return
	}
	m.decodeTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", status.String())))
}

// RecordActivation counts one activation attempt by result code.
func (m *Metrics) RecordActivation(ctx context.Context, code ResultCode) {
	if m == nil {
		return
	}
	m.activationTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(code))))
}
