// Package metrics exports queue activity as Prometheus metrics. A Collector is fed by
// subscriptions on a queue's event hub; it never reaches into the queue's internals.
package metrics

import (
	"time"

	"github.com/guido-cesarano/goqueue/pkg/events"
	"github.com/guido-cesarano/goqueue/pkg/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the queue metrics.
type Collector struct {
	// tasksProcessed tracks settled and retried tasks by status and type.
	// Labels:
	//   - status: "success", "retry", "failed" or "canceled"
	//   - type: task type from Metadata["type"] (e.g., "email")
	tasksProcessed *prometheus.CounterVec

	// taskDuration tracks how long an attempt ran, in seconds.
	// This histogram is used to calculate percentiles (P50, P95, P99) in Grafana.
	taskDuration *prometheus.HistogramVec

	// queueLatency tracks the time a task waited between scheduling and its most
	// recent dispatch.
	queueLatency *prometheus.HistogramVec

	// queueDepth tracks the number of pending and active tasks.
	// Labels:
	//   - queue: "pending" or "active"
	queueDepth *prometheus.GaugeVec

	// eventsTotal counts every event seen, by kind.
	eventsTotal *prometheus.CounterVec
}

// New registers the metrics with reg. Passing prometheus.DefaultRegisterer exposes
// them through promhttp.Handler().
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		tasksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "goqueue_processed_total",
			Help: "The total number of processed tasks",
		}, []string{"status", "type"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goqueue_task_duration_seconds",
			Help:    "Duration of task processing",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		queueLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goqueue_queue_latency_seconds",
			Help:    "Time spent in queue before processing",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "goqueue_queue_depth",
			Help: "Number of tasks pending or active in the queue",
		}, []string{"queue"}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "goqueue_events_total",
			Help: "Lifecycle events emitted by the queue",
		}, []string{"kind"}),
	}
}

// Attach subscribes the collector to every event kind of q. The returned function
// removes the subscriptions.
func (c *Collector) Attach(q *queue.Queue) (detach func()) {
	ids := make(map[events.Kind]events.ListenerID)
	for _, kind := range events.Kinds() {
		ids[kind] = q.On(kind, func(e events.Event) error {
			c.observe(e)
			c.updateDepth(q.Status())
			return nil
		})
	}
	c.updateDepth(q.Status())

	return func() {
		for kind, id := range ids {
			q.Off(kind, id)
		}
	}
}

func (c *Collector) observe(e events.Event) {
	c.eventsTotal.WithLabelValues(e.Kind.String()).Inc()

	taskType := e.Task.Type()
	switch e.Kind {
	case events.TaskComplete:
		c.tasksProcessed.WithLabelValues("success", taskType).Inc()
		c.observeAttempt(e)
	case events.TaskRetry:
		c.tasksProcessed.WithLabelValues("retry", taskType).Inc()
		c.observeAttempt(e)
	case events.TaskError:
		c.tasksProcessed.WithLabelValues("failed", taskType).Inc()
		c.observeAttempt(e)
	case events.TaskCanceled:
		c.tasksProcessed.WithLabelValues("canceled", taskType).Inc()
	}
}

// observeAttempt records duration and queue latency for a finished attempt.
func (c *Collector) observeAttempt(e events.Event) {
	started := e.Task.StartedAt
	if started.IsZero() {
		return
	}
	taskType := e.Task.Type()
	end := e.Time
	if end.IsZero() {
		end = time.Now()
	}
	c.taskDuration.WithLabelValues(taskType).Observe(end.Sub(started).Seconds())
	if !e.Task.EnqueuedAt.IsZero() {
		c.queueLatency.WithLabelValues(taskType).Observe(started.Sub(e.Task.EnqueuedAt).Seconds())
	}
}

func (c *Collector) updateDepth(s queue.Status) {
	c.queueDepth.WithLabelValues("pending").Set(float64(s.Pending))
	c.queueDepth.WithLabelValues("active").Set(float64(s.Active))
}
