// Package metrics exposes Prometheus instrumentation for the companion
// service. All methods are safe on a nil receiver so components can be
// constructed without metrics in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested  prometheus.Counter
	eventsDelivered prometheus.Counter
	pollDuration    prometheus.Histogram
	activePolls     prometheus.Gauge
	framesProcessed prometheus.Counter
	frameDuration   prometheus.Histogram
	pushesSent      *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry together
// with the standard Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wristhub_events_ingested_total",
			Help: "State change events appended to the delta log.",
		}),
		eventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wristhub_events_delivered_total",
			Help: "Delta events delivered to watch clients.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wristhub_poll_duration_seconds",
			Help:    "Wall time of long-poll requests.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 45, 60},
		}),
		activePolls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wristhub_active_polls",
			Help: "Long-poll requests currently held open.",
		}),
		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wristhub_camera_frames_total",
			Help: "Camera frames cropped, resized, and encoded.",
		}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wristhub_camera_frame_seconds",
			Help:    "CPU time per processed camera frame.",
			Buckets: prometheus.DefBuckets,
		}),
		pushesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wristhub_pushes_total",
			Help: "Push notifications forwarded to the gateway.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.eventsIngested, m.eventsDelivered, m.pollDuration, m.activePolls,
		m.framesProcessed, m.frameDuration, m.pushesSent,
	)
	return m
}

// Registry returns the underlying registry for the /metrics handler and for
// registering GaugeFuncs over live component state.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RegisterGaugeFunc attaches a live gauge (sessions, events-per-minute) fed
// by a callback.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, fn))
}

func (m *Metrics) IncEventsIngested() {
	if m != nil {
		m.eventsIngested.Inc()
	}
}

func (m *Metrics) AddEventsDelivered(n int) {
	if m != nil {
		m.eventsDelivered.Add(float64(n))
	}
}

func (m *Metrics) ObservePoll(seconds float64) {
	if m != nil {
		m.pollDuration.Observe(seconds)
	}
}

func (m *Metrics) PollStarted() {
	if m != nil {
		m.activePolls.Inc()
	}
}

func (m *Metrics) PollFinished() {
	if m != nil {
		m.activePolls.Dec()
	}
}

func (m *Metrics) ObserveFrame(seconds float64) {
	if m != nil {
		m.framesProcessed.Inc()
		m.frameDuration.Observe(seconds)
	}
}

func (m *Metrics) IncPush(outcome string) {
	if m != nil {
		m.pushesSent.WithLabelValues(outcome).Inc()
	}
}
