package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_outgoing_queue_depth",
		Help: "Messages waiting in the outgoing queue",
	})
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_messages_sent_total",
		Help: "Messages delivered to the active endpoint",
	}, []string{"type"})
	MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_messages_dropped_total",
		Help: "Messages removed from the queue without delivery",
	}, []string{"reason"})
	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_send_failures_total",
		Help: "Failed send attempts by failure kind",
	}, []string{"kind"})
	SendDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_send_duration_ms",
		Help:    "Endpoint send duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"mode"})
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_transitions_total",
		Help: "Waypoint transitions detected",
	}, []string{"event"})
	Commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_remote_commands_total",
		Help: "Remote commands received by action",
	}, []string{"action"})
	FixesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_fixes_ingested_total",
		Help: "Location fixes accepted from the location source",
	})
	EndpointState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_endpoint_state",
		Help: "Current endpoint state (0 initial, 1 idle, 2 connecting, 3 connected, 4 disconnected, 5 error)",
	})
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesDropped)
	prometheus.MustRegister(SendFailures)
	prometheus.MustRegister(SendDurationMs)
	prometheus.MustRegister(Transitions)
	prometheus.MustRegister(Commands)
	prometheus.MustRegister(FixesIngested)
	prometheus.MustRegister(EndpointState)
}

// Handler exposes the registered metrics for scraping.
func Handler() http.Handler { return promhttp.Handler() }
