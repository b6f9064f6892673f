package tasks

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the per-task-name counters/gauges the teacher's
// index_manager.go registers for its reindex jobs, generalized to any
// task name here instead of one fixed job kind.
type Metrics struct {
	inFlight  *prometheus.GaugeVec
	completed *prometheus.CounterVec
	retried   *prometheus.CounterVec
	fatal     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aquadoggo",
			Subsystem: "tasks",
			Name:      "in_flight",
			Help:      "Number of task handlers currently executing, by task name.",
		}, []string{"name"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquadoggo",
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Number of tasks completed successfully, by task name.",
		}, []string{"name"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquadoggo",
			Subsystem: "tasks",
			Name:      "retried_total",
			Help:      "Number of transient task retries, by task name.",
		}, []string{"name"}),
		fatal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquadoggo",
			Subsystem: "tasks",
			Name:      "fatal_total",
			Help:      "Number of tasks that failed fatally, by task name.",
		}, []string{"name"}),
	}
	if reg != nil {
		reg.MustRegister(m.inFlight, m.completed, m.retried, m.fatal)
	}
	return m
}
