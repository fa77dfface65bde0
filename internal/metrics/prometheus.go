// Package metrics exposes the Prometheus collectors for the scheduler loop,
// the backup executor and the HTTP surface.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mongardhq/mongard/internal/models"
)

const namespace = "mongard"

// PrometheusMetrics holds every collector the server registers. It
// implements backup.Instrumentation and backup.SchedulerInstrumentation.
type PrometheusMetrics struct {
	BackupCounter  *prometheus.CounterVec
	BackupDuration *prometheus.HistogramVec
	BackupRunning  prometheus.Gauge

	TicksTotal   prometheus.Counter
	TickDuration prometheus.Histogram
	TickDue      prometheus.Gauge

	NotifyFailures prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	reg prometheus.Registerer
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		BackupCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_executions_total",
			Help:      "Backup executions by terminal status.",
		}, []string{"status"}),
		BackupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Backup execution duration in seconds.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"status"}),
		BackupRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_running",
			Help:      "Number of in-flight backup executions.",
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Completed scheduler evaluation ticks.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Duration of scheduler evaluation ticks in seconds.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60},
		}),
		TickDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_due_schedules",
			Help:      "Schedules dispatched by the most recent tick.",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notification deliveries that failed.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		reg: reg,
	}

	collectors := []prometheus.Collector{
		m.BackupCounter, m.BackupDuration, m.BackupRunning,
		m.TicksTotal, m.TickDuration, m.TickDue,
		m.NotifyFailures,
		m.HTTPRequests, m.HTTPDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// ExecutionStarted implements backup.Instrumentation.
func (m *PrometheusMetrics) ExecutionStarted() {
	m.BackupRunning.Inc()
}

// ExecutionFinished implements backup.Instrumentation.
func (m *PrometheusMetrics) ExecutionFinished(status models.BackupLogStatus, duration time.Duration) {
	m.BackupRunning.Dec()
	m.BackupCounter.WithLabelValues(string(status)).Inc()
	m.BackupDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// TickCompleted implements backup.SchedulerInstrumentation.
func (m *PrometheusMetrics) TickCompleted(duration time.Duration, due int) {
	m.TicksTotal.Inc()
	m.TickDuration.Observe(duration.Seconds())
	m.TickDue.Set(float64(due))
}

// NotificationFailed counts one failed delivery.
func (m *PrometheusMetrics) NotificationFailed() {
	m.NotifyFailures.Inc()
}

// RecordHTTPRequest counts one served request.
func (m *PrometheusMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackWebsocketClients registers a gauge sourced from the activity feed's
// live client count.
func (m *PrometheusMetrics) TrackWebsocketClients(clients func() int) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Connected activity feed clients.",
	}, func() float64 { return float64(clients()) }))
}
