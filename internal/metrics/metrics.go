// Package metrics provides Prometheus collectors for the node: liveness,
// heartbeat probes, sessions and chat traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rosterchat"

// ─── Liveness ───────────────────────────────────────────────────────────────

// PeersAlive tracks how many roster peers are currently believed alive.
var PeersAlive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "peers_alive",
	Help:      "Number of peers currently believed alive.",
})

// LivenessTransitions counts alive/not-alive flips.
var LivenessTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "liveness_transitions_total",
	Help:      "Peer liveness transitions by target state.",
}, []string{"to"})

// ─── Heartbeat ──────────────────────────────────────────────────────────────

// Probes counts heartbeat probes by outcome (pong, timeout, error).
var Probes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "probes_total",
	Help:      "Heartbeat probes by result.",
}, []string{"result"})

// ProbeRTT tracks time from ping to pong.
var ProbeRTT = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "probe_rtt_seconds",
	Help:      "Heartbeat round trip time in seconds.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
})

// ─── Sessions ───────────────────────────────────────────────────────────────

// SessionsActive tracks open sessions by direction (outbound, inbound).
var SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "sessions_active",
	Help:      "Open chat sessions by direction.",
}, []string{"direction"})

// Messages counts chat messages by direction (in, out).
var Messages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "messages_total",
	Help:      "Chat messages by direction.",
}, []string{"direction"})

// ProtocolErrors counts rejected session lines by reason.
var ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "protocol_errors_total",
	Help:      "Protocol violations answered with an error line.",
}, []string{"reason"})

// Execs counts remote exec requests by result (started, failed).
var Execs = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "exec_total",
	Help:      "Remote exec requests by result.",
}, []string{"result"})
