// Package jobmetrics instruments the asynq session event handlers.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portal"

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	recorded *prometheus.CounterVec
	pruned   prometheus.Counter
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return build(prometheus.DefaultRegisterer)
})

// NewMetrics registers the collectors on reg, or returns the process wide
// set registered on the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return defaultMetrics()
	}
	return build(reg)
}

func build(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Job executions by task type and outcome.",
		}, []string{"task", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job execution time by task type.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"task"}),
		recorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session_events",
			Name:      "recorded_total",
			Help:      "Session events written to the audit log by kind.",
		}, []string{"kind"}),
		pruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session_events",
			Name:      "pruned_total",
			Help:      "Session events deleted by retention.",
		}),
	}
}

// Run is one in-flight job execution.
type Run struct {
	m     *Metrics
	task  string
	start time.Time
}

// Track starts timing a run of task.
func (m *Metrics) Track(task string) *Run {
	return &Run{m: m, task: task, start: time.Now()}
}

// End records the outcome of the run and returns err unchanged.
func (r *Run) End(err error) error {
	if r == nil || r.m == nil {
		return err
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.m.runs.WithLabelValues(r.task, outcome).Inc()
	r.m.duration.WithLabelValues(r.task).Observe(time.Since(r.start).Seconds())
	return err
}

// AddRecorded counts one stored session event of kind.
func (m *Metrics) AddRecorded(kind string) {
	if m == nil {
		return
	}
	m.recorded.WithLabelValues(kind).Inc()
}

// AddPruned counts session events removed by retention.
func (m *Metrics) AddPruned(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.pruned.Add(float64(count))
}
