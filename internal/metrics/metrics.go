// Package metrics collects marketplace telemetry: operation outcomes and
// latencies, the size of the active order book, and the event stream rate.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bazaar/internal/market"
)

type Collector struct {
	registry *prometheus.Registry

	opsTotal    *prometheus.CounterVec
	opLatency   *prometheus.HistogramVec
	eventsTotal *prometheus.CounterVec
}

// NewCollector builds the collector. listings reports the current registry
// depth; it is sampled on every scrape so replaced listings never skew the
// gauge.
func NewCollector(namespace string, listings func() float64) *Collector {
	if namespace == "" {
		namespace = "bazaar"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "operations_total",
			Help:      "Marketplace operations by type and result.",
		},
		[]string{"op", "result"},
	)
	c.opLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "operation_duration_seconds",
			Help:      "Marketplace operation latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	c.eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "events_total",
			Help:      "Emitted marketplace events by name.",
		},
		[]string{"event"},
	)

	c.registry.MustRegister(c.opsTotal, c.opLatency, c.eventsTotal)

	if listings != nil {
		c.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "active_listings",
				Help:      "Number of listings currently in the registry.",
			},
			listings,
		))
	}
	return c
}

// ObserveOperation records one served marketplace operation.
func (c *Collector) ObserveOperation(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.opsTotal.WithLabelValues(op, result).Inc()
	c.opLatency.WithLabelValues(op).Observe(d.Seconds())
}

// Attach subscribes the collector to the event stream.
func (c *Collector) Attach(bus *market.Bus) {
	bus.Subscribe(func(env market.Envelope) {
		c.eventsTotal.WithLabelValues(env.Event.Name()).Inc()
	})
}

// Handler serves the collector's registry over HTTP.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
