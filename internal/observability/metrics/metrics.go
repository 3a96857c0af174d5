package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes billing domain instruments.
type Metrics struct {
	charges            metric.Int64Counter
	chargeDuration     metric.Float64Histogram
	subscriptionEvents metric.Int64Counter
	entitlementEvents  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "modulebilling"
	}
	meter := provider.Meter(name)

	charges, err := meter.Int64Counter("modulebilling_gateway_charges_total")
	if err != nil {
		return nil, err
	}
	chargeDuration, err := meter.Float64Histogram("modulebilling_gateway_charge_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	subscriptionEvents, err := meter.Int64Counter("modulebilling_subscription_transitions_total")
	if err != nil {
		return nil, err
	}
	entitlementEvents, err := meter.Int64Counter("modulebilling_entitlement_changes_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		charges:            charges,
		chargeDuration:     chargeDuration,
		subscriptionEvents: subscriptionEvents,
		entitlementEvents:  entitlementEvents,
	}, nil
}

// NewNoop returns instruments backed by a no-op provider, for tests and tools.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordCharge counts a gateway call; kind is charge or refund, outcome success or failed.
func (m *Metrics) RecordCharge(ctx context.Context, provider, kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.charges.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.chargeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSubscriptionTransition counts lifecycle transitions such as ACTIVE to CANCELLED.
func (m *Metrics) RecordSubscriptionTransition(ctx context.Context, status, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("status", status),
		attribute.String("reason", reason),
	)
	m.subscriptionEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEntitlementChange(ctx context.Context, moduleID, action string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("module_id", moduleID),
		attribute.String("action", action),
	)
	m.entitlementEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":  {},
	"kind":      {},
	"outcome":   {},
	"status":    {},
	"reason":    {},
	"module_id": {},
	"action":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
