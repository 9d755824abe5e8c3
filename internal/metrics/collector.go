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

	// 会话指标
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	turnsTotal     *prometheus.CounterVec
	turnDuration   prometheus.Histogram

	// 上游指标
	upstreamFrames     *prometheus.CounterVec
	protocolViolations *prometheus.CounterVec

	// 语音指标
	synthesisTotal        *prometheus.CounterVec
	synthesisDuration     *prometheus.HistogramVec
	transcriptionTotal    *prometheus.CounterVec
	transcriptionDuration *prometheus.HistogramVec
	audioCacheTotal       *prometheus.CounterVec

	// 出站指标
	outboundMessages *prometheus.CounterVec
	confirmations    *prometheus.CounterVec

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

	// 会话指标
	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open client sessions",
		},
	)

	c.sessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of client sessions opened",
		},
	)

	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turns by outcome",
		},
		[]string{"outcome"}, // completed, declined, upstream_error, reset, cancelled
	)

	c.turnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn duration from user message to end of upstream stream",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// 上游指标
	c.upstreamFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_frames_total",
			Help:      "Total number of upstream event frames by decode result",
		},
		[]string{"result"}, // ok, malformed
	)

	c.protocolViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Total number of recovered protocol violations",
		},
		[]string{"kind"},
	)

	// 语音指标
	c.synthesisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Total number of TTS provider calls",
		},
		[]string{"provider", "status"},
	)

	c.synthesisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "TTS provider call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	c.transcriptionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_requests_total",
			Help:      "Total number of STT provider calls",
		},
		[]string{"provider", "status"},
	)

	c.transcriptionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "STT provider call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	c.audioCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_cache_lookups_total",
			Help:      "Total number of audio cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	// 出站指标
	c.outboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Total number of messages delivered to clients",
		},
		[]string{"type"},
	)

	c.confirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Total number of execution confirmations by outcome",
		},
		[]string{"outcome"}, // approved, declined, timeout
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔌 会话指标记录
// =============================================================================

// SessionOpened 记录会话建立
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

// SessionClosed 记录会话关闭
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

// RecordTurn 记录一轮对话的结果与耗时
func (c *Collector) RecordTurn(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(outcome).Inc()
	c.turnDuration.Observe(duration.Seconds())
}

// =============================================================================
// 📡 上游指标记录
// =============================================================================

// RecordUpstreamFrame 记录上游事件帧
func (c *Collector) RecordUpstreamFrame(ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "malformed"
	}
	c.upstreamFrames.WithLabelValues(result).Inc()
}

// RecordProtocolViolation 记录已恢复的协议违规
func (c *Collector) RecordProtocolViolation(kind string) {
	if c == nil {
		return
	}
	c.protocolViolations.WithLabelValues(kind).Inc()
}

// =============================================================================
// 🔊 语音指标记录
// =============================================================================

// RecordSynthesis 记录一次 TTS 服务商调用
func (c *Collector) RecordSynthesis(provider string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.synthesisTotal.WithLabelValues(provider, resultStatus(err)).Inc()
	c.synthesisDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordTranscription 记录一次 STT 服务商调用
func (c *Collector) RecordTranscription(provider string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.transcriptionTotal.WithLabelValues(provider, resultStatus(err)).Inc()
	c.transcriptionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordAudioCache 记录音频缓存查找结果
func (c *Collector) RecordAudioCache(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.audioCacheTotal.WithLabelValues(result).Inc()
}

// =============================================================================
// 📤 出站指标记录
// =============================================================================

// RecordOutbound 记录已投递给客户端的消息
func (c *Collector) RecordOutbound(msgType string) {
	if c == nil {
		return
	}
	c.outboundMessages.WithLabelValues(msgType).Inc()
}

// RecordConfirmation 记录执行确认结果
func (c *Collector) RecordConfirmation(outcome string) {
	if c == nil {
		return
	}
	c.confirmations.WithLabelValues(outcome).Inc()
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

func resultStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
