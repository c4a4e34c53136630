package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewOrderMetrics(t *testing.T) {
	metrics := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("NewOrderMetricsWithRegisterer should not return nil")
	}
	if metrics.ordersCreated == nil {
		t.Error("ordersCreated counter vec should not be nil")
	}
	if metrics.notifications == nil {
		t.Error("notifications counter vec should not be nil")
	}
	if metrics.stageDuration == nil {
		t.Error("stageDuration histogram vec should not be nil")
	}
	if metrics.httpRequests == nil {
		t.Error("httpRequests counter vec should not be nil")
	}
	if metrics.inFlight == nil {
		t.Error("inFlight gauge should not be nil")
	}
}

func TestNewOrderMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	first.RecordOrderRejected()
	second.RecordOrderRejected()

	if got := counterValue(t, first.ordersRejected); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}
}

func TestRecordOrderCreated(t *testing.T) {
	metrics := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordOrderCreated(true)
	metrics.RecordOrderCreated(false)
	metrics.RecordOrderCreated(false)

	if got := counterValue(t, metrics.ordersCreated.WithLabelValues(PersistenceStored)); got != 1 {
		t.Errorf("expected 1 stored order, got %f", got)
	}
	if got := counterValue(t, metrics.ordersCreated.WithLabelValues(PersistenceDegraded)); got != 2 {
		t.Errorf("expected 2 degraded orders, got %f", got)
	}
}

func TestRecordNotification(t *testing.T) {
	metrics := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordNotification("admin_email", "failed", 120*time.Millisecond)
	metrics.RecordNotification("customer_email", "sent", 80*time.Millisecond)

	if got := counterValue(t, metrics.notifications.WithLabelValues("admin_email", "failed")); got != 1 {
		t.Errorf("expected 1 failed admin email, got %f", got)
	}
	if got := counterValue(t, metrics.notifications.WithLabelValues("customer_email", "sent")); got != 1 {
		t.Errorf("expected 1 sent customer email, got %f", got)
	}
}

func TestInFlightGauge(t *testing.T) {
	metrics := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordInFlightStarted()
	metrics.RecordInFlightStarted()
	metrics.RecordInFlightFinished()

	gauge := &dto.Metric{}
	if err := metrics.inFlight.Write(gauge); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gauge.Gauge.GetValue() != 1 {
		t.Errorf("expected 1 in-flight order, got %f", gauge.Gauge.GetValue())
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	metrics := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordHTTPRequest("/orders", "POST", 200, 10*time.Millisecond)

	if got := counterValue(t, metrics.httpRequests.WithLabelValues("/orders", "POST", "200")); got != 1 {
		t.Errorf("expected 1 request, got %f", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var metrics *OrderMetrics

	metrics.RecordOrderCreated(true)
	metrics.RecordOrderRejected()
	metrics.RecordStatusUpdate("ok")
	metrics.RecordNotification("admin_email", "sent", time.Second)
	metrics.RecordStageDuration("persist", time.Second)
	metrics.RecordHTTPRequest("/orders", "POST", 200, time.Second)
	metrics.RecordTimelineEvent()
	metrics.RecordInFlightStarted()
	metrics.RecordInFlightFinished()
}
