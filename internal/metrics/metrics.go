// Package metrics exposes the engine's prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dbgp"

const (
	ResultOK        = "ok"
	ResultError     = "protocol_error"
	ResultTimeout   = "timeout"
	ResultCancelled = "cancelled"
	ResultTransport = "transport"
	ResultClosed    = "terminated"
)

var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_accepted_total",
		Help:      "Connections accepted by the listener.",
	})

	ConnectionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_dropped_total",
		Help:      "Accepted connections that never became a session.",
	}, []string{"reason"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Sessions past the handshake and not yet terminated.",
	})

	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_received_total",
		Help:      "Packets read from engines by kind.",
	}, []string{"kind"})

	PacketsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "responses_discarded_total",
		Help:      "Responses whose transaction id matched no pending command.",
	})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Commands issued by command name and result.",
	}, []string{"command", "result"})

	CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_duration_seconds",
		Help:      "Round trip time of commands that received a response.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9),
	}, []string{"command"})
)

func ObserveCommand(command, result string, start time.Time) {
	Commands.WithLabelValues(command, result).Inc()

	if result == ResultOK || result == ResultError {
		CommandLatency.WithLabelValues(command).Observe(time.Since(start).Seconds())
	}
}
