package run

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sourceLive   = "live"
	sourceReplay = "replay"
)

// Metrics counts the evaluations of the coordinating worker. A nil *Metrics
// records nothing.
type Metrics struct {
	evaluations  *prometheus.CounterVec
	failures     prometheus.Counter
	replayActive prometheus.Gauge
}

// NewMetrics registers the run metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gomidaco_evaluations_total",
			Help: "Evaluations answered, by source (live or replay)",
		}, []string{"source"}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Name: "gomidaco_evaluation_failures_total",
			Help: "Evaluations whose failure flag was set",
		}),
		replayActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "gomidaco_replay_active",
			Help: "1 while evaluations are replayed from a history, 0 otherwise",
		}),
	}
}

func (m *Metrics) observe(replayed, fail bool) {
	if m == nil {
		return
	}
	source := sourceLive
	if replayed {
		source = sourceReplay
	}
	m.evaluations.WithLabelValues(source).Inc()
	if fail {
		m.failures.Inc()
	}
}

func (m *Metrics) setReplay(active bool) {
	if m == nil {
		return
	}
	if active {
		m.replayActive.Set(1)
	} else {
		m.replayActive.Set(0)
	}
}
