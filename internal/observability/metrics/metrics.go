// Package metrics 基于 Prometheus 客户端暴露编排器的运行指标。
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	executionsTotalCounter  *prometheus.CounterVec
	executionDurationMetric prometheus.Histogram
	stepsTotalCounter       *prometheus.CounterVec
	stepDurationMetric      *prometheus.HistogramVec
	stepRetriesCounter      prometheus.Counter
	httpRequestsCounter     *prometheus.CounterVec
	httpDurationMetric      *prometheus.HistogramVec
)

// Init 在默认 Prometheus 注册表上注册指标，只执行一次。
func Init() {
	initOnce.Do(func() {
		executionsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openintent_executions_total",
				Help: "Total number of execution status transitions by status.",
			},
			[]string{"status"},
		)

		executionDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "openintent_execution_duration_seconds",
				Help:    "Duration of workflow executions in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		stepsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openintent_steps_total",
				Help: "Total number of step terminal updates by skill and status.",
			},
			[]string{"skill", "status"},
		)

		stepDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "openintent_step_duration_seconds",
				Help:    "Duration of skill invocations in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"skill"},
		)

		stepRetriesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "openintent_step_retries_total",
				Help: "Total number of retried step attempts.",
			},
		)

		httpRequestsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openintent_http_requests_total",
				Help: "Total number of HTTP requests processed.",
			},
			[]string{"handler", "method", "code"},
		)

		httpDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "openintent_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		)

		prometheus.MustRegister(
			executionsTotalCounter,
			executionDurationMetric,
			stepsTotalCounter,
			stepDurationMetric,
			stepRetriesCounter,
			httpRequestsCounter,
			httpDurationMetric,
		)

		// 让状态维度在首次自增前就出现在 /metrics 里。
		for _, status := range []string{"started", "completed", "failed", "cancelled"} {
			executionsTotalCounter.WithLabelValues(status)
		}
	})
}

// IncExecutionStatus 记录一次执行状态迁移。
func IncExecutionStatus(status string) {
	Init()
	executionsTotalCounter.WithLabelValues(status).Inc()
}

// ObserveExecutionDuration 记录一次执行的总耗时。
func ObserveExecutionDuration(d time.Duration) {
	Init()
	executionDurationMetric.Observe(d.Seconds())
}

// IncStepStatus 记录一次步骤终态更新。
func IncStepStatus(skill, status string) {
	Init()
	stepsTotalCounter.WithLabelValues(skill, status).Inc()
}

// ObserveStepDuration 记录一次技能调用的耗时。
func ObserveStepDuration(skill string, d time.Duration) {
	Init()
	stepDurationMetric.WithLabelValues(skill).Observe(d.Seconds())
}

// IncStepRetries 记录一次步骤重试。
func IncStepRetries() {
	Init()
	stepRetriesCounter.Inc()
}

// ObserveHTTPRequest 记录一次 HTTP 请求的生命周期。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	Init()
	httpRequestsCounter.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDurationMetric.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler 暴露 Prometheus 文本格式的指标端点。
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}
