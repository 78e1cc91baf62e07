package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("owner_id", "456"),
		attribute.String("source", "purchase"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "owner_id" {
			t.Fatalf("expected owner_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordSettlement(context.Background(), "credits", "completed")
	m.RecordPayoutEntry(context.Background(), "stripe", "success", 100)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "promptmart"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	m.RecordLedgerTransaction(context.Background(), "purchase", "credit")
	m.RecordDailyClaim(context.Background(), "granted")
}
