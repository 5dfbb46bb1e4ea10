// Package metrics exports supervisor counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "overseer"

// Prometheus keeps its own registry, so several instances can live in one
// process (tests) without clashing on the default one.
type Prometheus struct {
	registry   *prometheus.Registry
	admissions *prometheus.CounterVec
	started    *prometheus.CounterVec
	completed  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	errors     *prometheus.CounterVec
}

func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Submissions by admission decision.",
		}, []string{"decision"}),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Processes spawned.",
		}, []string{"runner"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Finished executions by outcome.",
		}, []string{"runner", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall clock duration of executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"runner"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runner_errors_total",
			Help:      "Spawn failures, timeouts and rejected transitions.",
		}, []string{"runner", "kind"}),
	}
	p.registry.MustRegister(
		p.admissions,
		p.started,
		p.completed,
		p.duration,
		p.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) TaskAdmitted(decision string) {
	p.admissions.WithLabelValues(decision).Inc()
}

func (p *Prometheus) TaskStarted(runner string) {
	p.started.WithLabelValues(runner).Inc()
}

func (p *Prometheus) TaskCompleted(runner string, outcome model.TaskStatus, d time.Duration) {
	p.completed.WithLabelValues(runner, outcome.String()).Inc()
	p.duration.WithLabelValues(runner).Observe(d.Seconds())
}

func (p *Prometheus) RunnerError(runner, kind string) {
	p.errors.WithLabelValues(runner, kind).Inc()
}

// Registry is exposed for tests and additional collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the text exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
