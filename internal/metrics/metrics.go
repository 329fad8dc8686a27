package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/docbatch/constants"
)

// Collector owns the Prometheus instruments for one orchestrator instance.
// It registers on its own registry so tests (and embedders) can run several
// instances side by side.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted *prometheus.CounterVec
	jobsTerminal  *prometheus.CounterVec

	tasksCompleted *prometheus.CounterVec
	tasksErrored   *prometheus.CounterVec
	tasksRetried   *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec

	queueDepth       prometheus.Gauge
	workers          prometheus.Gauge
	workersUnhealthy prometheus.Gauge
	recoveries       prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbatch_jobs_submitted_total",
			Help: "Total number of batch jobs accepted for processing",
		}, []string{"job_type"}),
		jobsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbatch_jobs_terminal_total",
			Help: "Total number of jobs that reached a terminal status",
		}, []string{"job_type", "status"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbatch_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		}, []string{"job_type"}),
		tasksErrored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbatch_tasks_errored_total",
			Help: "Total number of task executions that returned an error",
		}, []string{"job_type"}),
		tasksRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbatch_tasks_retried_total",
			Help: "Total number of tasks re-queued for retry",
		}, []string{"job_type"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docbatch_task_duration_seconds",
			Help:    "Task execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docbatch_queue_depth",
			Help: "Current number of tasks held by the queue store",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docbatch_workers",
			Help: "Current number of pool workers",
		}),
		workersUnhealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docbatch_workers_unhealthy",
			Help: "Workers currently failing heartbeat or error-rate checks",
		}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docbatch_worker_recoveries_total",
			Help: "Total number of workers replaced by recovery",
		}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted, c.jobsTerminal,
		c.tasksCompleted, c.tasksErrored, c.tasksRetried, c.taskDuration,
		c.queueDepth, c.workers, c.workersUnhealthy, c.recoveries,
	)
	return c
}

// Registry exposes the underlying registry for the HTTP handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns the /metrics HTTP handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordJobSubmitted(jobType string) {
	c.jobsSubmitted.WithLabelValues(jobType).Inc()
}

func (c *Collector) RecordJobTerminal(jobType string, status constants.JobStatus) {
	c.jobsTerminal.WithLabelValues(jobType, string(status)).Inc()
}

func (c *Collector) RecordTaskCompleted(jobType string, seconds float64) {
	c.tasksCompleted.WithLabelValues(jobType).Inc()
	c.taskDuration.WithLabelValues(jobType).Observe(seconds)
}

func (c *Collector) RecordTaskErrored(jobType string, seconds float64) {
	c.tasksErrored.WithLabelValues(jobType).Inc()
	c.taskDuration.WithLabelValues(jobType).Observe(seconds)
}

func (c *Collector) RecordTaskRetried(jobType string) {
	c.tasksRetried.WithLabelValues(jobType).Inc()
}

func (c *Collector) RecordRecovery(replaced int) {
	c.recoveries.Add(float64(replaced))
}

func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

func (c *Collector) SetWorkerCounts(total, unhealthy int) {
	c.workers.Set(float64(total))
	c.workersUnhealthy.Set(float64(unhealthy))
}
