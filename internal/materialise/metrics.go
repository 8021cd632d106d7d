package materialise

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	jobs     *prometheus.CounterVec
	nodes    *prometheus.HistogramVec
	inflight prometheus.Gauge
	progress *prometheus.GaugeVec
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genomeforge",
			Subsystem: "materialise",
			Name:      "jobs_total",
			Help:      "Materialisation jobs by terminal outcome.",
		}, []string{"outcome"}),
		nodes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "genomeforge",
			Subsystem: "materialise",
			Name:      "node_generation_seconds",
			Help:      "Latency of one generator call by zone.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"zone"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "genomeforge",
			Subsystem: "materialise",
			Name:      "jobs_inflight",
			Help:      "Jobs currently running.",
		}),
		progress: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "genomeforge",
			Subsystem: "materialise",
			Name:      "job_progress_percent",
			Help:      "Last reported progress of running jobs.",
		}, []string{"job_id"}),
	}
}

func (m *Metrics) jobStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) jobFinished(jobID string, passed bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.jobs.WithLabelValues(outcome).Inc()
	m.inflight.Dec()
	m.progress.DeleteLabelValues(jobID)
}

func (m *Metrics) nodeGenerated(zone Zone, took time.Duration) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(string(zone)).Observe(took.Seconds())
}

func (m *Metrics) reportProgress(jobID string, progress int) {
	if m == nil {
		return
	}
	m.progress.WithLabelValues(jobID).Set(float64(progress))
}
