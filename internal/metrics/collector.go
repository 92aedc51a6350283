package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Option 配置 Collector
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer 注册到指定 Registerer，默认是 prometheus.DefaultRegisterer
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// =============================================================================
// 📊 Collector
// =============================================================================

// Collector 机器人进程的全部 Prometheus 指标。
// 它实现 bot、ratelimit、conversation、telegram、database 各包声明的 Recorder 接口。
type Collector struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpSize     *prometheus.HistogramVec

	llmRequests *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	admissions      *prometheus.CounterVec
	convSwept       prometheus.Counter
	convTracked     prometheus.Gauge
	telegramUpdates *prometheus.CounterVec

	cacheLookups *prometheus.CounterVec

	dbOpen *prometheus.GaugeVec
	dbIdle *prometheus.GaugeVec
}

// NewCollector 创建并注册指标；同一 Registerer 上同一 namespace 只能创建一次
func NewCollector(namespace string, logger *zap.Logger, opts ...Option) *Collector {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := promauto.With(o.registerer)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	c := &Collector{
		httpRequests: counter("http_requests_total", "HTTP requests by method, route and status class", "method", "path", "status"),
		httpDuration: histogram("http_request_duration_seconds", "HTTP request latency", prometheus.DefBuckets, "method", "path"),
		httpSize:     histogram("http_response_size_bytes", "HTTP response body size", prometheus.ExponentialBuckets(100, 10, 8), "method", "path"),

		llmRequests: counter("llm_requests_total", "Provider calls by outcome", "provider", "model", "status"),
		llmDuration: histogram("llm_request_duration_seconds", "Provider call latency", []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}, "provider", "model"),
		llmTokens:   counter("llm_tokens_used_total", "Tokens reported or estimated per provider call", "provider", "model", "type"),

		admissions: counter("admission_decisions_total", "Admission controller decisions", "decision"),
		convSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "conversations_expired_total",
			Help: "Conversations removed by the idle sweeper",
		}),
		convTracked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "conversations_tracked",
			Help: "Conversations held in memory after the last sweep",
		}),
		telegramUpdates: counter("telegram_updates_total", "Telegram updates processed", "kind", "status"),

		cacheLookups: counter("cache_lookups_total", "Redis lookups by table and result", "cache_type", "result"),

		dbOpen: gauge("db_connections_open", "Open ledger database connections", "database"),
		dbIdle: gauge("db_connections_idle", "Idle ledger database connections", "database"),
	}

	logger.With(zap.String("component", "metrics")).
		Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest path 应是归一化后的路由，避免标签基数失控
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordLLMRequest status 为 success 或 llm.ErrorCode
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequests.WithLabelValues(provider, model, status).Inc()
	c.llmDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

func (c *Collector) RecordAdmission(allowed bool) {
	c.admissions.WithLabelValues(pick(allowed, "allowed", "denied")).Inc()
}

// RecordConversationSweep remaining 为清理后仍在内存中的对话数
func (c *Collector) RecordConversationSweep(deleted, remaining int) {
	c.convSwept.Add(float64(deleted))
	c.convTracked.Set(float64(remaining))
}

// RecordTelegramUpdate kind 为 message/command/callback
func (c *Collector) RecordTelegramUpdate(kind string, ok bool) {
	c.telegramUpdates.WithLabelValues(kind, pick(ok, "ok", "error")).Inc()
}

func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheLookups.WithLabelValues(cacheType, "hit").Inc()
}

func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheLookups.WithLabelValues(cacheType, "miss").Inc()
}

// RecordDBConnections 由 database.PoolManager 的健康检查调用
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbOpen.WithLabelValues(database).Set(float64(open))
	c.dbIdle.WithLabelValues(database).Set(float64(idle))
}

// statusClass 200 -> "2xx"；小于 100 的状态码记为 unknown
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
