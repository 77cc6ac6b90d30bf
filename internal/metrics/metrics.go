// Package metrics registers the collector's Prometheus series:
//
//	#collector_unknown_messages_total
//	#collector_protocol_errors_total
//	#collector_normalization_rejections_total
//	#collector_session_reconnects_total
//	#collector_session_state
//	#collector_stale_frames_total
//	#collector_credential_signings_total
//	#collector_events_emitted_total
//	#collector_events_dropped_total
//	#collector_sink_errors_total
//	#go_* and process_* system metrics
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "collector"

var (
	registry = prometheus.NewRegistry()

	unknownMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unknown_messages_total",
		Help:      "Frames whose message type the protocol adapter does not know",
	}, []string{"exchange", "type"})

	protocolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "protocol_errors_total",
		Help:      "Frames dropped because they could not be parsed",
	}, []string{"exchange"})

	rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "normalization_rejections_total",
		Help:      "Events rejected by the normalizer",
	}, []string{"exchange", "reason"})

	reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_reconnects_total",
		Help:      "Reconnect attempts per exchange",
	}, []string{"exchange"})

	sessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_state",
		Help:      "0 disconnected, 1 connecting, 2 authenticating, 3 subscribed, 4 degraded, 5 closed",
	}, []string{"exchange"})

	staleFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_frames_total",
		Help:      "Frames dropped because they belong to a replaced connection",
	}, []string{"exchange"})

	credentialSignings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credential_signings_total",
		Help:      "Credential refreshes that reached the signer",
	}, []string{"exchange"})

	eventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_emitted_total",
		Help:      "Normalized events pushed to the output stream",
	}, []string{"exchange", "kind"})

	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events evicted from a full output buffer",
	}, []string{"exchange"})

	sinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_errors_total",
		Help:      "Failed sink writes",
	}, []string{"sink"})
)

func init() {
	registry.MustRegister(
		unknownMessages,
		protocolErrors,
		rejections,
		reconnects,
		sessionState,
		staleFrames,
		credentialSignings,
		eventsEmitted,
		eventsDropped,
		sinkErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the collector registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func IncUnknownMessage(exchange, messageType string) {
	unknownMessages.WithLabelValues(exchange, messageType).Inc()
}

func IncProtocolError(exchange string) {
	protocolErrors.WithLabelValues(exchange).Inc()
}

func IncRejection(exchange, reason string) {
	rejections.WithLabelValues(exchange, reason).Inc()
}

func IncReconnect(exchange string) {
	reconnects.WithLabelValues(exchange).Inc()
}

func SetSessionState(exchange string, value float64) {
	sessionState.WithLabelValues(exchange).Set(value)
}

func IncStaleFrame(exchange string) {
	staleFrames.WithLabelValues(exchange).Inc()
}

func IncCredentialSigning(exchange string) {
	credentialSignings.WithLabelValues(exchange).Inc()
}

func IncEventEmitted(exchange, kind string) {
	eventsEmitted.WithLabelValues(exchange, kind).Inc()
}

func IncEventDropped(exchange string) {
	eventsDropped.WithLabelValues(exchange).Inc()
}

func IncSinkError(sink string) {
	sinkErrors.WithLabelValues(sink).Inc()
}
