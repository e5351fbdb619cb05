// Package metrics bridges engine lifecycle events into Prometheus. The
// collector subscribes to the event bus, so the engine and composer stay
// free of any metrics dependency.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZanzyTHEbar/tollgate/internal/eventbus"
)

// Collector turns bus events into Prometheus series on its own registry,
// so tests and embedders never collide with the global default registry.
type Collector struct {
	registry *prometheus.Registry
	bus      eventbus.EventBus
	subID    string

	plansGenerated prometheus.Counter
	planFailures   *prometheus.CounterVec
	payments       *prometheus.CounterVec
	steps          *prometheus.CounterVec
	executions     *prometheus.CounterVec
	stepDuration   prometheus.Histogram
}

// NewCollector registers the engine metrics and subscribes to the bus.
func NewCollector(bus eventbus.EventBus) (*Collector, error) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		bus:      bus,
		plansGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tollgate_plans_generated_total",
			Help: "Plans successfully generated and parsed from oracle output.",
		}),
		planFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tollgate_plan_failures_total",
			Help: "Plans rejected before payment, by stage.",
		}, []string{"stage"}),
		payments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tollgate_payments_total",
			Help: "Payment gate outcomes.",
		}, []string{"outcome"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tollgate_steps_total",
			Help: "Step terminal states across all executions.",
		}, []string{"outcome"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tollgate_executions_total",
			Help: "Whole-plan execution outcomes.",
		}, []string{"outcome"}),
		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tollgate_step_duration_seconds",
			Help:    "Wall time of one step invocation, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	subID, err := bus.SubscribeAll(c.handleEvent)
	if err != nil {
		return nil, err
	}
	c.subID = subID
	return c, nil
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Close detaches the collector from the bus.
func (c *Collector) Close() error {
	return c.bus.Unsubscribe(c.subID)
}

func (c *Collector) handleEvent(ctx context.Context, event eventbus.Event) error {
	switch event.Type() {
	case eventbus.EventPlanGenerationSuccess:
		c.plansGenerated.Inc()
	case eventbus.EventPlanGenerationFailure:
		c.planFailures.WithLabelValues("generation").Inc()
	case eventbus.EventPlanValidationFailure:
		c.planFailures.WithLabelValues("validation").Inc()

	case eventbus.EventPaymentAccepted:
		c.payments.WithLabelValues("accepted").Inc()
	case eventbus.EventPaymentRejected:
		c.payments.WithLabelValues("rejected").Inc()
	case eventbus.EventPaymentConsumed:
		c.payments.WithLabelValues("consumed").Inc()
	case eventbus.EventPaymentExpired:
		c.payments.WithLabelValues("expired").Inc()

	case eventbus.EventStepExecutionSuccess:
		c.steps.WithLabelValues("success").Inc()
		c.observeStepDuration(event)
	case eventbus.EventStepExecutionFailure:
		c.steps.WithLabelValues("failure").Inc()
	case eventbus.EventStepExecutionBlocked:
		c.steps.WithLabelValues("blocked").Inc()

	case eventbus.EventExecutionSuccess:
		c.executions.WithLabelValues("success").Inc()
	case eventbus.EventExecutionFailure:
		c.executions.WithLabelValues("failure").Inc()
	case eventbus.EventExecutionCancelled:
		c.executions.WithLabelValues("cancelled").Inc()
	}
	return nil
}

// observeStepDuration reads the duration the composer attaches to success
// events. Events without one are simply not observed.
func (c *Collector) observeStepDuration(event eventbus.Event) {
	payload, ok := event.Payload().(map[string]interface{})
	if !ok {
		return
	}
	raw, ok := payload["duration"].(string)
	if !ok {
		return
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return
	}
	c.stepDuration.Observe(duration.Seconds())
}
