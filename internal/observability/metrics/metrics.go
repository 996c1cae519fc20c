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

// Metrics exposes treasury instruments.
type Metrics struct {
	accrualTicks     metric.Int64Counter
	thresholdCrossed metric.Int64Counter
	routeQuotes      metric.Int64Counter
	paymentOutcomes  metric.Int64Counter
	ledgerWrites     metric.Int64Counter
	settledAmountUSD metric.Float64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
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
		name = "chainstream"
	}
	meter := provider.Meter(name)

	accrualTicks, err := meter.Int64Counter("chainstream_accrual_ticks_total")
	if err != nil {
		return nil, err
	}
	thresholdCrossed, err := meter.Int64Counter("chainstream_threshold_crossed_total")
	if err != nil {
		return nil, err
	}
	routeQuotes, err := meter.Int64Counter("chainstream_route_quotes_total")
	if err != nil {
		return nil, err
	}
	paymentOutcomes, err := meter.Int64Counter("chainstream_payment_outcomes_total")
	if err != nil {
		return nil, err
	}
	ledgerWrites, err := meter.Int64Counter("chainstream_ledger_writes_total")
	if err != nil {
		return nil, err
	}
	settledAmount, err := meter.Float64Counter("chainstream_settled_amount_usd_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		accrualTicks:     accrualTicks,
		thresholdCrossed: thresholdCrossed,
		routeQuotes:      routeQuotes,
		paymentOutcomes:  paymentOutcomes,
		ledgerWrites:     ledgerWrites,
		settledAmountUSD: settledAmount,
	}, nil
}

func (m *Metrics) RecordAccrualTick(ctx context.Context) {
	if m == nil {
		return
	}
	m.accrualTicks.Add(ctx, 1)
}

func (m *Metrics) RecordThresholdCrossed(ctx context.Context) {
	if m == nil {
		return
	}
	m.thresholdCrossed.Add(ctx, 1)
}

// RecordRouteQuote counts one quoted route by source and outcome.
func (m *Metrics) RecordRouteQuote(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.routeQuotes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPaymentOutcome(ctx context.Context, status string, amountUSD float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.paymentOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
	if status == "success" && amountUSD > 0 {
		m.settledAmountUSD.Add(ctx, amountUSD)
	}
}

func (m *Metrics) RecordLedgerWrite(ctx context.Context, store, op string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("store", strings.TrimSpace(store)),
		attribute.String("op", strings.TrimSpace(op)),
	)
	m.ledgerWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
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
	"source":  {},
	"outcome": {},
	"status":  {},
	"store":   {},
	"op":      {},
	"chain":   {},
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
