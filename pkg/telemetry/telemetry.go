// Package telemetry exposes prometheus instruments for the sync client and
// the reference server. Everything registers on the default registry so the
// server's /metrics endpoint picks it up via promhttp.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SocketReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_socket_reconnects_total",
		Help: "Reconnect attempts made after an unexpected socket close.",
	})

	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_events_received_total",
		Help: "Inbound socket events by tag; unknown tags count under \"unknown\".",
	}, []string{"event"})

	ActionsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_actions_sent_total",
		Help: "Outbound socket actions by tag.",
	}, []string{"action"})

	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_uploads_total",
		Help: "Attachment uploads by result (ok, rejected, failed).",
	}, []string{"result"})

	RegistryRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_registry_refreshes_total",
		Help: "Thread summary list refreshes (scheduled and on-demand).",
	})

	RequestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_request_errors_total",
		Help: "Failed REST side-channel calls. These are logged, never retried.",
	})

	HistoryFetchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "supportchat_history_fetch_seconds",
		Help:    "Latency of thread history fetches.",
		Buckets: prometheus.DefBuckets,
	})

	ThreadSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_thread_switches_total",
		Help: "Active-thread changes in agent mode.",
	})
)
