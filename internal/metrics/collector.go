// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 会话指标
	sessionsCreated prometheus.Counter
	sessionsDeleted *prometheus.CounterVec
	sessionsActive  prometheus.Gauge

	// 清理任务指标
	cleanupSweeps    prometheus.Counter
	cleanupReclaimed prometheus.Counter
	cleanupFailures  prometheus.Counter

	// 命令指标
	commandsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg；reg 为 nil 时使用默认 Registerer
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 会话指标
	c.sessionsCreated = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Total number of sessions created",
	})

	c.sessionsDeleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_deleted_total",
			Help:      "Total number of sessions deleted",
		},
		[]string{"reason"}, // explicit, cleanup, shutdown
	)

	c.sessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live sessions",
	})

	// 清理任务指标
	c.cleanupSweeps = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_sweeps_total",
		Help:      "Total number of cleanup sweeps that inspected a non-empty registry",
	})

	c.cleanupReclaimed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_reclaimed_sessions_total",
		Help:      "Total number of sessions reclaimed by cleanup",
	})

	c.cleanupFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_teardown_failures_total",
		Help:      "Total number of failed teardowns during cleanup",
	})

	// 命令指标
	c.commandsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of delegated session commands",
		},
		[]string{"result"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🌐 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🗂️ 会话指标记录（实现 session.MetricsRecorder）
// =============================================================================

// RecordSessionCreated 记录会话创建
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordSessionDeleted 记录会话删除
func (c *Collector) RecordSessionDeleted(reason string) {
	c.sessionsDeleted.WithLabelValues(reason).Inc()
}

// SetActiveSessions 设置存活会话数
func (c *Collector) SetActiveSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

// RecordCleanupSweep 记录一次清理
func (c *Collector) RecordCleanupSweep(reclaimed, failed int) {
	c.cleanupSweeps.Inc()
	c.cleanupReclaimed.Add(float64(reclaimed))
	c.cleanupFailures.Add(float64(failed))
}

// RecordCommand 记录委派命令结果；空 code 表示成功
func (c *Collector) RecordCommand(code string) {
	if code == "" {
		code = "success"
	}
	c.commandsTotal.WithLabelValues(code).Inc()
}

func statusCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return strconv.Itoa(code)
	}
}
