package infrastructure

import (
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry bundles the metrics provider and its HTTP exposition handler.
type Telemetry struct {
	MeterProvider *sdkmetric.MeterProvider
	registry      *promclient.Registry
}

// InitializeTelemetry sets up the OpenTelemetry meter provider backed by a
// Prometheus registry and installs it as the global provider.
func InitializeTelemetry() (*Telemetry, error) {
	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return &Telemetry{MeterProvider: provider, registry: registry}, nil
}

// Meter returns the application meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.MeterProvider.Meter("salepoint")
}

// Handler returns the /metrics exposition handler.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}
