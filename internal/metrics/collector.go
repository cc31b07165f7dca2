// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
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

	// 历史引擎指标
	eventsAppended      *prometheus.CounterVec
	captureTotal        *prometheus.CounterVec
	captureDuration     prometheus.Histogram
	captureAgents       prometheus.Histogram
	revertsTotal        *prometheus.CounterVec
	branchesTotal       *prometheus.CounterVec
	branchesActive      prometheus.Gauge
	controllerState     *prometheus.CounterVec
	reseedAgentFailures *prometheus.CounterVec

	// 快照仓库指标
	snapshotOpsTotal    *prometheus.CounterVec
	snapshotOpsDuration *prometheus.HistogramVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 历史引擎指标
	c.eventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_events_appended_total",
			Help:      "Total number of events appended to branch logs",
		},
		[]string{"kind"},
	)

	c.captureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_checkpoint_captures_total",
			Help:      "Total number of checkpoint captures",
		},
		[]string{"status"}, // status: success, partial
	)

	c.captureDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_checkpoint_capture_duration_seconds",
			Help:      "Checkpoint capture duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	c.captureAgents = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_checkpoint_agents",
			Help:      "Number of agents in a captured checkpoint",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		},
	)

	c.revertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_reverts_total",
			Help:      "Total number of revert operations",
		},
		[]string{"status"},
	)

	c.branchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_branches_total",
			Help:      "Total number of branch operations",
		},
		[]string{"status"},
	)

	c.branchesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_branches_active",
			Help:      "Number of branches with a live controller",
		},
	)

	c.controllerState = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_state_transitions_total",
			Help:      "Total number of controller state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.reseedAgentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_reseed_failures_total",
			Help:      "Total number of agent restore failures during reseed",
		},
		[]string{"operation"}, // operation: revert, branch, load
	)

	// 快照仓库指标
	c.snapshotOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_operations_total",
			Help:      "Total number of snapshot repository operations",
		},
		[]string{"backend", "operation", "status"},
	)

	c.snapshotOpsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_operation_duration_seconds",
			Help:      "Snapshot repository operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🕰️ 历史引擎指标记录
// =============================================================================

// RecordEventAppended 记录事件追加
func (c *Collector) RecordEventAppended(kind string) {
	c.eventsAppended.WithLabelValues(kind).Inc()
}

// RecordCapture 记录检查点捕获；agents 为参与捕获的 agent 数
func (c *Collector) RecordCapture(success bool, agents int, duration time.Duration) {
	c.captureTotal.WithLabelValues(outcome(success, "partial")).Inc()
	c.captureDuration.Observe(duration.Seconds())
	if success {
		c.captureAgents.Observe(float64(agents))
	}
}

// RecordRevert 记录回滚
func (c *Collector) RecordRevert(success bool) {
	c.revertsTotal.WithLabelValues(outcome(success, "failure")).Inc()
}

// RecordBranch 记录分叉
func (c *Collector) RecordBranch(success bool) {
	c.branchesTotal.WithLabelValues(outcome(success, "failure")).Inc()
}

// SetActiveBranches 设置活跃分支数
func (c *Collector) SetActiveBranches(n int) {
	c.branchesActive.Set(float64(n))
}

// RecordStateTransition 记录控制器状态转换
func (c *Collector) RecordStateTransition(fromState, toState string) {
	c.controllerState.WithLabelValues(fromState, toState).Inc()
}

// RecordReseedFailure 记录重新注入 agent 状态失败
func (c *Collector) RecordReseedFailure(operation string) {
	c.reseedAgentFailures.WithLabelValues(operation).Inc()
}

// =============================================================================
// 💾 快照仓库指标记录
// =============================================================================

// RecordSnapshotOperation 记录快照仓库操作
func (c *Collector) RecordSnapshotOperation(backend, operation string, err error, duration time.Duration) {
	c.snapshotOpsTotal.WithLabelValues(backend, operation, outcome(err == nil, "error")).Inc()
	c.snapshotOpsDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func outcome(success bool, failure string) string {
	if success {
		return "success"
	}
	return failure
}
