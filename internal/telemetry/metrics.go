package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventstream"

var (
	Published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "messages_total",
		Help:      "Publish calls by result (accepted, rejected).",
	}, []string{"result"})

	DeliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "delivery_failures_total",
		Help:      "Messages the producing client reported as not delivered.",
	})

	Consumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "consumed_total",
		Help:      "Messages read from the events topic.",
	})

	Dispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "dispatched_total",
		Help:      "Post-process tasks enqueued.",
	})

	Skipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "skipped_total",
		Help:      "Messages not dispatched, by decode reason.",
	}, []string{"reason"})

	Commits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "commits_total",
		Help:      "Synchronous offset commits by kind (batch, final).",
	}, []string{"kind"})

	CommittedOffset = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "committed_offset",
		Help:      "Last committed resume offset per partition.",
	}, []string{"topic", "partition"})
)

func init() {
	prometheus.MustRegister(Published, DeliveryFailures, Consumed, Dispatched, Skipped, Commits, CommittedOffset)
}
