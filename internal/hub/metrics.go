package hub

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the hub's Prometheus collectors.
type Metrics struct {
	Connections     prometheus.Gauge
	OnlineUsers     prometheus.Gauge
	EventsDelivered *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	Broadcasts      *prometheus.CounterVec
	InboundFrames   *prometheus.CounterVec
	RejectedFrames  *prometheus.CounterVec
	ResyncsSent     prometheus.Counter
}

// NewMetrics creates the hub collectors and registers them on reg. A nil reg
// leaves them unregistered, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Number of registered connections.",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Subsystem: "hub",
			Name:      "online_users",
			Help:      "Number of users with at least one registered connection.",
		}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "hub",
			Name:      "events_delivered_total",
			Help:      "Events enqueued onto client outbound queues.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "hub",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a client outbound queue was full.",
		}, []string{"type"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Broadcasts processed by the hub loop.",
		}, []string{"target"}),
		InboundFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "hub",
			Name:      "inbound_frames_total",
			Help:      "Control frames received from clients.",
		}, []string{"type"}),
		RejectedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "hub",
			Name:      "rejected_frames_total",
			Help:      "Inbound frames discarded.",
		}, []string{"reason"}),
		ResyncsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "hub",
			Name:      "resyncs_sent_total",
			Help:      "resync_required notices enqueued after drops.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Connections,
			m.OnlineUsers,
			m.EventsDelivered,
			m.EventsDropped,
			m.Broadcasts,
			m.InboundFrames,
			m.RejectedFrames,
			m.ResyncsSent,
		)
	}
	return m
}
