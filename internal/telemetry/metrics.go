package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "courier",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// MessagesScheduledTotal counts scheduled messages by channel.
var MessagesScheduledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "scheduler",
		Name:      "messages_scheduled_total",
		Help:      "Scheduled messages created, by channel.",
	},
	[]string{"channel"},
)

// DispatchClaimedTotal counts messages promoted from scheduled to queued.
var DispatchClaimedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "dispatch",
		Name:      "claimed_total",
		Help:      "Due messages claimed and enqueued by the poller.",
	},
)

// SendsTotal counts provider send outcomes.
var SendsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "delivery",
		Name:      "sends_total",
		Help:      "Provider send attempts, by channel and outcome.",
	},
	[]string{"channel", "outcome"},
)

// SendDuration tracks provider send call latency.
var SendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "courier",
		Subsystem: "delivery",
		Name:      "send_duration_seconds",
		Help:      "Provider send call duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"channel"},
)

// RetriesTotal counts transient failures that were re-enqueued.
var RetriesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "delivery",
		Name:      "retries_total",
		Help:      "Delivery attempts rescheduled after a transient failure.",
	},
)

// DeadLettersTotal counts messages that exhausted their retry budget.
var DeadLettersTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "delivery",
		Name:      "dead_letters_total",
		Help:      "Messages marked failed after retry exhaustion.",
	},
)

// WebhookEventsTotal counts inbound provider callbacks by provider and result.
var WebhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Inbound provider callbacks, by provider and result.",
	},
	[]string{"provider", "result"},
)

// WebhookDeduplicatedTotal counts callbacks ignored as idempotent replays.
var WebhookDeduplicatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "courier",
		Subsystem: "webhook",
		Name:      "events_deduplicated_total",
		Help:      "Provider callbacks recognized as duplicates.",
	},
)

// NewMetricsRegistry creates a Prometheus registry with default and custom collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		MessagesScheduledTotal,
		DispatchClaimedTotal,
		SendsTotal,
		SendDuration,
		RetriesTotal,
		DeadLettersTotal,
		WebhookEventsTotal,
		WebhookDeduplicatedTotal,
	)
	return reg
}
