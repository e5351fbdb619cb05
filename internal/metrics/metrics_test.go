package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ZanzyTHEbar/tollgate/internal/eventbus"
)

func waitForCount(t *testing.T, counter prometheus.Counter, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(counter) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("counter never reached %v (at %v)", want, testutil.ToFloat64(counter))
}

func TestCollector_CountsBusEvents(t *testing.T) {
	bus := eventbus.NewChannelEventBus()
	defer bus.Close()

	collector, err := NewCollector(bus)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	defer collector.Close()

	ctx := context.Background()
	publish := func(eventType eventbus.EventType, payload map[string]interface{}) {
		t.Helper()
		if err := bus.Publish(ctx, eventbus.NewEvent(eventType, payload, "test", nil)); err != nil {
			t.Fatalf("Publish(%s) error = %v", eventType, err)
		}
	}

	publish(eventbus.EventPlanGenerationSuccess, nil)
	publish(eventbus.EventPlanValidationFailure, nil)
	publish(eventbus.EventPaymentAccepted, nil)
	publish(eventbus.EventStepExecutionSuccess, map[string]interface{}{"step": 0, "duration": "15ms"})
	publish(eventbus.EventStepExecutionSuccess, map[string]interface{}{"step": 1, "duration": "40ms"})
	publish(eventbus.EventStepExecutionFailure, map[string]interface{}{"step": 2})
	publish(eventbus.EventStepExecutionBlocked, map[string]interface{}{"step": 3})
	publish(eventbus.EventExecutionFailure, nil)

	waitForCount(t, collector.plansGenerated, 1)
	waitForCount(t, collector.planFailures.WithLabelValues("validation"), 1)
	waitForCount(t, collector.payments.WithLabelValues("accepted"), 1)
	waitForCount(t, collector.steps.WithLabelValues("success"), 2)
	waitForCount(t, collector.steps.WithLabelValues("failure"), 1)
	waitForCount(t, collector.steps.WithLabelValues("blocked"), 1)
	waitForCount(t, collector.executions.WithLabelValues("failure"), 1)
}

func TestCollector_HandlerServesRegistry(t *testing.T) {
	bus := eventbus.NewChannelEventBus()
	defer bus.Close()

	collector, err := NewCollector(bus)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	defer collector.Close()

	if err := bus.Publish(context.Background(), eventbus.NewEvent(eventbus.EventPlanGenerationSuccess, nil, "test", nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitForCount(t, collector.plansGenerated, 1)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/metrics", nil)
	collector.Handler().ServeHTTP(recorder, request)

	body := recorder.Body.String()
	if !strings.Contains(body, "tollgate_plans_generated_total 1") {
		t.Errorf("exposition missing plan counter, got:\n%s", body)
	}
}

func TestCollector_IgnoresUnrelatedEvents(t *testing.T) {
	bus := eventbus.NewChannelEventBus()
	defer bus.Close()

	collector, err := NewCollector(bus)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	defer collector.Close()

	if err := bus.Publish(context.Background(), eventbus.NewEvent(eventbus.EventSystemInfo, "noise", "test", nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if got := testutil.ToFloat64(collector.plansGenerated); got != 0 {
		t.Errorf("unrelated event moved a counter: %v", got)
	}
}
