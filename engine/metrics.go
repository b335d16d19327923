package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the service's operational counters.
type Metrics struct {
	CyclesTotal   prometheus.Counter
	CycleDuration prometheus.Histogram
	DevicesUp     prometheus.Gauge
	DevicesDown   prometheus.Gauge
	TrackedTotal  prometheus.Gauge
	AlertsTotal   prometheus.Counter
	Recoveries    prometheus.Counter
	Incidents     prometheus.Counter
	Notifications *prometheus.CounterVec
}

// NewMetrics registers the metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pingmon_cycles_total",
			Help: "Completed probe cycles.",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pingmon_cycle_duration_seconds",
			Help:    "Wall time of one probe cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		DevicesUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "pingmon_devices_up",
			Help: "Devices answering in the last cycle.",
		}),
		DevicesDown: f.NewGauge(prometheus.GaugeOpts{
			Name: "pingmon_devices_down",
			Help: "Devices failing in the last cycle.",
		}),
		TrackedTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "pingmon_tracked_devices",
			Help: "Devices with an open failure streak.",
		}),
		AlertsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pingmon_alerts_total",
			Help: "Alerts fired for devices crossing the failure threshold.",
		}),
		Recoveries: f.NewCounter(prometheus.CounterOpts{
			Name: "pingmon_recoveries_total",
			Help: "Alerted devices that came back online.",
		}),
		Incidents: f.NewCounter(prometheus.CounterOpts{
			Name: "pingmon_incidents_total",
			Help: "Incidents created for long outages.",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pingmon_notifications_total",
			Help: "Notification delivery attempts by outcome.",
		}, []string{"outcome"}),
	}
}
