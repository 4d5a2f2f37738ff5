package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdpeek",
		Name:      "channel_requests_total",
		Help:      "Requests issued across all message channels.",
	})
	metricTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdpeek",
		Name:      "channel_timeouts_total",
		Help:      "Requests that timed out waiting for a response.",
	})
	metricRemoteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdpeek",
		Name:      "channel_remote_errors_total",
		Help:      "Failure response envelopes received from remote handlers.",
	})
	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdpeek",
		Name:      "channel_dropped_messages_total",
		Help:      "Inbound payloads dropped as noise or late responses.",
	})
	metricHandlerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mdpeek",
		Name:      "channel_handler_panics_total",
		Help:      "Panics recovered from push and request handlers.",
	})
)
