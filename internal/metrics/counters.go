// Package metrics holds the process wide counters observing feedback delivery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedbackhook"

// Counter is a monotonic counter. Values below 1 are ignored.
type Counter interface {
	Increment(n int)
}

// Counters is the set of counters shared between the hook and the delivery client.
// Aggregation across a reporting window is a sum.
type Counters struct {
	TotalRequests   Counter
	Errors          Counter
	MalformedEvents Counter

	flushes *prometheus.CounterVec
}

func NewCounters(registry prometheus.Registerer) *Counters {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Counters{
		TotalRequests: promCounter{factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_requests",
			Help:      "Feedback records carried by delivery attempts.",
		})},
		Errors: promCounter{factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors",
			Help:      "Delivery attempts that failed with a non-2xx status, a transport error or a timeout.",
		})},
		MalformedEvents: promCounter{factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_events",
			Help:      "Forwarded events that produced a feedback record without an item id.",
		})},
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Buffer flushes by trigger.",
		}, []string{"reason"}),
	}
}

// Flushed records a non-empty flush triggered by reason.
func (c *Counters) Flushed(reason string) {
	if c == nil || c.flushes == nil {
		return
	}
	c.flushes.WithLabelValues(reason).Inc()
}

type promCounter struct {
	c prometheus.Counter
}

func (p promCounter) Increment(n int) {
	if n < 1 {
		return
	}
	p.c.Add(float64(n))
}
