// Package metrics exports Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eaverdeja/blograph/internal/eventbus"
	"github.com/eaverdeja/blograph/internal/events"
)

const namespace = "blograph"

// Collectors holds every blograph metric.
type Collectors struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	BatchKeys  *prometheus.HistogramVec
	Flushes    *prometheus.CounterVec
	Resolvers  *prometheus.CounterVec
	Requests   *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "operations_total",
			Help:      "GraphQL operations executed, by operation type and outcome.",
		}, []string{"type", "status"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "duration_seconds",
			Help:      "Time spent executing GraphQL operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		BatchKeys: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "batch_keys",
			Help:      "Distinct keys fetched per grouped load.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"entity"}),
		Flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "flushes_total",
			Help:      "Grouped loads dispatched, by entity and outcome.",
		}, []string{"entity", "status"}),
		Resolvers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "resolver_calls_total",
			Help:      "Logged resolver calls, by field and outcome.",
		}, []string{"field", "status"}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by status code.",
		}, []string{"code"}),
	}
}

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

// Subscribe feeds c from the global bus and returns a function removing
// the subscriptions.
func (c *Collectors) Subscribe() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.GraphQLFinish) {
			c.Operations.WithLabelValues(e.OperationType, status(len(e.Errors) > 0)).Inc()
			c.Duration.WithLabelValues(e.OperationType).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.BatchFlush) {
			c.BatchKeys.WithLabelValues(e.Entity).Observe(float64(e.Keys))
			c.Flushes.WithLabelValues(e.Entity, status(e.Err != nil)).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.ResolverFinish) {
			c.Resolvers.WithLabelValues(e.ObjectType+"."+e.Field, status(e.Err != nil)).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.HTTPFinish) {
			c.Requests.WithLabelValues(strconv.Itoa(e.Status)).Inc()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
