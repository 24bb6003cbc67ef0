package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relay's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Connections prometheus.Gauge
	Rooms       prometheus.Gauge
	Frames      *prometheus.CounterVec
	Forwarded   *prometheus.CounterVec
	Dropped     prometheus.Counter
}

// NewMetrics creates the collectors under namespace and registers them.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Open client connections",
	})
	rooms := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms with at least one member",
	})
	frames := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames received from clients",
		},
		[]string{"kind", "event"},
	)
	forwarded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_total",
			Help:      "Guest requests forwarded to a host, by outcome",
		},
		[]string{"event", "status"},
	)
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_clients_total",
		Help:      "Clients disconnected because their send buffer was full",
	})

	registry.MustRegister(connections, rooms, frames, forwarded, dropped)

	return &Metrics{
		registry:    registry,
		Connections: connections,
		Rooms:       rooms,
		Frames:      frames,
		Forwarded:   forwarded,
		Dropped:     dropped,
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
