package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总合成服务的 Prometheus 指标。
type Metrics struct {
	registry *prometheus.Registry

	synthRequests *prometheus.CounterVec
	synthDuration *prometheus.HistogramVec
	audioSeconds  *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	loadedVoices  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
}

// New 创建指标并注册到独立的 Registry，便于测试中多次创建。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		synthRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aquestalk_synth_requests_total",
				Help: "合成请求总数",
			},
			[]string{"voice", "status"}, // status: ok, cached, error
		),

		synthDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aquestalk_synth_duration_seconds",
				Help:    "原生库单次合成耗时",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"voice"},
		),

		audioSeconds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aquestalk_audio_seconds_total",
				Help: "生成音频的累计时长",
			},
			[]string{"voice"},
		),

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aquestalk_cache_lookups_total",
				Help: "缓存查询次数",
			},
			[]string{"result"}, // hit, miss
		),

		loadedVoices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "aquestalk_loaded_voices",
				Help: "当前已加载的声种库数量",
			},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aquestalk_http_requests_total",
				Help: "HTTP 请求总数",
			},
			[]string{"route", "code"}, // code 为数字状态码
		),
	}

	m.registry.MustRegister(
		m.synthRequests,
		m.synthDuration,
		m.audioSeconds,
		m.cacheLookups,
		m.loadedVoices,
		m.httpRequests,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry 返回指标所在的 Registry。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSynth 记录一次合成请求。
func (m *Metrics) RecordSynth(voice, status string, elapsed, audio time.Duration) {
	m.synthRequests.WithLabelValues(voice, status).Inc()
	if status == "ok" {
		m.synthDuration.WithLabelValues(voice).Observe(elapsed.Seconds())
	}
	if audio > 0 {
		m.audioSeconds.WithLabelValues(voice).Add(audio.Seconds())
	}
}

// RecordCacheLookup 记录一次缓存查询。
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// SetLoadedVoices 设置已加载声种数量。
func (m *Metrics) SetLoadedVoices(n int) {
	m.loadedVoices.Set(float64(n))
}

// RecordHTTP 记录一次 HTTP 请求。
func (m *Metrics) RecordHTTP(route string, code int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
