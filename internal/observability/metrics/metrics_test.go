package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "payplus"),
		attribute.String("store_id", "456"),
		attribute.String("module_id", "premium-club"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "store_id" {
			t.Fatalf("store_id must not be used as a metric label")
		}
	}
}

func TestNoopMetricsRecord(t *testing.T) {
	m := NewNoop()
	if m == nil {
		t.Fatalf("expected noop metrics")
	}
	m.RecordCharge(context.Background(), "sandbox", "charge", "success", time.Millisecond)
	m.RecordSubscriptionTransition(context.Background(), "CANCELLED", "user")

	var nilMetrics *Metrics
	nilMetrics.RecordEntitlementChange(context.Background(), "reviews", "activate")
}
