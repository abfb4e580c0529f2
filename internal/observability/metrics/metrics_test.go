package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "zenopay"),
		attribute.String("order_id", "ORD-1"),
		attribute.String("outcome", "success"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "provider" && attrs[1].Key != "provider" {
		t.Fatalf("expected provider to be retained")
	}
	if attrs[0].Key != "outcome" && attrs[1].Key != "outcome" {
		t.Fatalf("expected outcome to be retained")
	}
}

func TestRecordersTolerateNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "paygate"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordPaymentOrder(ctx, "mock", "success")
	m.RecordWebhook(ctx, "mock", "processed")
	m.RecordStatusCheck(ctx, "mock", "SUCCESS")
	m.RecordTransactionTransition(ctx, "mock", "PENDING", "SUCCESS")
	m.ObserveProviderCall(ctx, "mock", "create_order", time.Millisecond)

	var nilMetrics *Metrics
	nilMetrics.RecordWebhook(ctx, "mock", "processed")
}
