package matching

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	Runs          *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	MatchesStored prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "career_matching_runs_total",
				Help: "Matching runs by outcome",
			},
			[]string{"outcome"},
		),
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "career_matching_step_duration_seconds",
				Help:    "Duration of each matching step",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"step", "status"},
		),
		MatchesStored: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "career_matches_stored_total",
				Help: "Career match rows written",
			},
		),
	}
}

func (m *Metrics) observeStep(step string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StepDuration.WithLabelValues(step, status).Observe(d.Seconds())
}

func (m *Metrics) observeRun(kind Kind, stored int) {
	if m == nil {
		return
	}
	outcome := "success"
	if kind != "" {
		outcome = string(kind)
	}
	m.Runs.WithLabelValues(outcome).Inc()
	if stored > 0 {
		m.MatchesStored.Add(float64(stored))
	}
}
