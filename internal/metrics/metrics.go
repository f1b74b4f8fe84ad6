package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for massagesync.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	SessionsActive    prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	StoreReachable    prometheus.Gauge
}

// New creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on promhttp.Handler().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "massagesync_connections_total",
			Help: "Total channel connections attached",
		}),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "massagesync_active_connections",
			Help: "Current attached channel connections",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "massagesync_sessions_active",
			Help: "Sessions with at least one attached role",
		}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "massagesync_messages_total",
			Help: "Inbound channel messages routed, by message kind",
		}, []string{"type"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "massagesync_messages_dropped_total",
			Help: "Inbound channel messages dropped",
		}, []string{"reason"}),
		DeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "massagesync_deliveries_total",
			Help: "Per-recipient send outcomes",
		}, []string{"outcome"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "massagesync_errors_total",
			Help: "Total errors",
		}, []string{"type"}),
		StoreReachable: f.NewGauge(prometheus.GaugeOpts{
			Name: "massagesync_store_reachable",
			Help: "Preference store reachability (1=up, 0=down)",
		}),
	}
}
