package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "attendance"

// Metrics groups the service's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	scans         *prometheus.CounterVec
	sessionsOpen  prometheus.Counter
	sessionsClose *prometheus.CounterVec
	deviceAuth    *prometheus.CounterVec
	liveDropped   *prometheus.CounterVec
	subscribers   prometheus.Gauge
	sweepRuns     prometheus.Counter
	sweepFailures prometheus.Counter
	rateLimited   prometheus.Counter
}

// New registers collectors on reg. Pass prometheus.DefaultRegisterer in production
// and a fresh registry (or nil, for unregistered collectors) in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scans_total",
			Help: "RFID scans processed, by result.",
		}, []string{"result"}),
		sessionsOpen: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_opened_total",
			Help: "Class sessions opened.",
		}),
		sessionsClose: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_closed_total",
			Help: "Class sessions closed, by reason.",
		}, []string{"reason"}),
		deviceAuth: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "device_auth_total",
			Help: "Teacher-on-device authentications, by result.",
		}, []string{"result"}),
		liveDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "live_events_dropped_total",
			Help: "Live events dropped, by stage.",
		}, []string{"stage"}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_subscribers",
			Help: "Connected live dashboard channels.",
		}),
		sweepRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_runs_total",
			Help: "Stale-session sweeps executed.",
		}),
		sweepFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_failures_total",
			Help: "Sessions the sweeper failed to close.",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}
}

func (m *Metrics) Scan(result string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpen.Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.sessionsClose.WithLabelValues(reason).Inc()
}

func (m *Metrics) DeviceAuth(result string) {
	if m == nil {
		return
	}
	m.deviceAuth.WithLabelValues(result).Inc()
}

func (m *Metrics) LiveDropped(stage string) {
	if m == nil {
		return
	}
	m.liveDropped.WithLabelValues(stage).Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) SweepRun(failures int) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepFailures.Add(float64(failures))
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
