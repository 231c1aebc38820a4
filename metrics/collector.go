// Package metrics exposes the orchestrator's prometheus instruments.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records generation, scene, queue and HTTP metrics. It satisfies
// task.Metrics and continuity.FallbackRecorder.
type Collector struct {
	submissions  *prometheus.CounterVec
	polls        *prometheus.CounterVec
	taskOutcomes *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	fallbacks    *prometheus.CounterVec
	scenes       *prometheus.CounterVec
	queueTasks   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers every instrument on reg under namespace. A nil reg
// means prometheus.DefaultRegisterer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.submissions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_submissions_total",
		Help:      "Generation jobs submitted, by provider and outcome",
	}, []string{"provider", "outcome"})

	c.polls = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_polls_total",
		Help:      "Status checks, by provider and result (ok, miss, empty)",
	}, []string{"provider", "result"})

	c.taskOutcomes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Finished generation tasks, by provider, state and error kind",
	}, []string{"provider", "state", "kind"})

	c.taskDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Time from task creation to a terminal state",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	}, []string{"provider", "state"})

	c.fallbacks = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "continuation_fallbacks_total",
		Help:      "Continuation attempts retried as fresh generations",
	}, []string{"provider"})

	c.scenes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scenes_total",
		Help:      "Scene outcomes, by provider, mode and status",
	}, []string{"provider", "mode", "status"})

	c.queueTasks = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_tasks_total",
		Help:      "Queue tasks handled, by type and outcome",
	}, []string{"type", "outcome"})

	c.httpRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	c.httpDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	return c
}

func (c *Collector) RecordSubmission(provider, outcome string) {
	c.submissions.WithLabelValues(provider, outcome).Inc()
}

func (c *Collector) RecordPoll(provider, result string) {
	c.polls.WithLabelValues(provider, result).Inc()
}

func (c *Collector) RecordTaskOutcome(provider, state, kind string, d time.Duration) {
	c.taskOutcomes.WithLabelValues(provider, state, kind).Inc()
	c.taskDuration.WithLabelValues(provider, state).Observe(d.Seconds())
}

func (c *Collector) RecordFallback(provider string) {
	c.fallbacks.WithLabelValues(provider).Inc()
}

func (c *Collector) RecordScene(provider, mode, status string) {
	c.scenes.WithLabelValues(provider, mode, status).Inc()
}

func (c *Collector) RecordQueueTask(taskType, outcome string) {
	c.queueTasks.WithLabelValues(taskType, outcome).Inc()
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
