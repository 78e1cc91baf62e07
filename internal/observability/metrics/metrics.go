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

// Metrics exposes application-level instruments.
type Metrics struct {
	settlements        metric.Int64Counter
	ledgerTransactions metric.Int64Counter
	ledgerConflicts    metric.Int64Counter
	ledgerDrift        metric.Int64Counter
	dailyClaims        metric.Int64Counter
	payoutEntries      metric.Int64Counter
	payoutAmount       metric.Int64Counter
	webhookEvents      metric.Int64Counter
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
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "promptmart"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.settlements, "promptmart_settlements_total", "Purchase settlements by method and outcome."},
		{&m.ledgerTransactions, "promptmart_ledger_transactions_total", "Ledger transactions by source and direction."},
		{&m.ledgerConflicts, "promptmart_ledger_conflicts_total", "Ledger atomic units retried after a write conflict."},
		{&m.ledgerDrift, "promptmart_ledger_drift_total", "Accounts whose cached balance disagrees with the log."},
		{&m.dailyClaims, "promptmart_daily_claims_total", "Daily reward claims by outcome."},
		{&m.payoutEntries, "promptmart_payout_entries_total", "Payout entries by provider and status."},
		{&m.payoutAmount, "promptmart_payout_amount_cents_total", "Cents paid out by provider."},
		{&m.webhookEvents, "promptmart_webhook_events_total", "Provider webhook events by type."},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	return &m, nil
}

// RecordSettlement increments settlement counts.
func (m *Metrics) RecordSettlement(ctx context.Context, method, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("payment_method", strings.TrimSpace(method)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.settlements.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerTransaction increments ledger transaction counts.
func (m *Metrics) RecordLedgerTransaction(ctx context.Context, source, direction string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("direction", strings.TrimSpace(direction)),
	)
	m.ledgerTransactions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordLedgerConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.ledgerConflicts.Add(ctx, 1)
}

func (m *Metrics) RecordLedgerDrift(ctx context.Context, asset string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("asset", strings.TrimSpace(asset)))
	m.ledgerDrift.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDailyClaim increments daily claim counts.
func (m *Metrics) RecordDailyClaim(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.dailyClaims.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayoutEntry increments payout entry counts and paid amounts.
func (m *Metrics) RecordPayoutEntry(ctx context.Context, provider, status string, amountCents int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.payoutEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
	if status == "success" && amountCents > 0 {
		m.payoutAmount.Add(ctx, amountCents, metric.WithAttributes(FilterAttributes(attribute.String("provider", provider))...))
	}
}

// RecordWebhookEvent increments provider webhook counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"payment_method": {},
	"outcome":        {},
	"source":         {},
	"direction":      {},
	"asset":          {},
	"provider":       {},
	"status":         {},
	"event_type":     {},
	"reason":         {},
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
