package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artcritic/artcritic/pkg/logger"
)

const (
	MetricsNamespace         = "artcritic"
	MetricsSubsystemSystem   = "system"
	MetricsSubsystemPipeline = "pipeline"
	MetricsSubsystemLLM      = "llm"
	MetricsSubsystemChannel  = "channel"

	MetricsVersionLabel = "version"

	OutcomeSuccess = "success"
)

type Metrics interface {
	GetRegistry() *prometheus.Registry

	ObserveCritique(mode, outcome string, elapsed float64)
	ObserveLLMRequest(provider, model string)
	ObserveLLMTokens(provider, model string, prompt, completion int64)
	IncrementChannelEvent(channel, event string)
	SetWatermark(channel string, id float64)
}

type InstanceInfo struct {
	Version string
}

type metrics struct {
	registry *prometheus.Registry

	startTime prometheus.Gauge
	info      prometheus.Gauge

	critiqueTime   *prometheus.HistogramVec
	critiquesTotal *prometheus.CounterVec

	llmRequestsTotal  *prometheus.CounterVec
	llmTokensSent     *prometheus.CounterVec
	llmTokensReceived *prometheus.CounterVec

	channelEvents *prometheus.CounterVec
	watermark     *prometheus.GaugeVec
}

func NewMetrics(info InstanceInfo) Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "start_timestamp_seconds",
		Help:      "The time the process started.",
	})
	m.startTime.SetToCurrentTime()
	m.registry.MustRegister(m.startTime)

	m.info = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   MetricsNamespace,
		Subsystem:   MetricsSubsystemSystem,
		Name:        "info",
		Help:        "The running version.",
		ConstLabels: prometheus.Labels{MetricsVersionLabel: info.Version},
	})
	m.info.Set(1)
	m.registry.MustRegister(m.info)

	m.critiqueTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPipeline,
		Name:      "critique_duration_seconds",
		Help:      "Time spent producing a critique, collaborator calls included.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"mode", "outcome"})
	m.registry.MustRegister(m.critiqueTime)

	m.critiquesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPipeline,
		Name:      "critiques_total",
		Help:      "Critiques attempted, by mode and outcome.",
	}, []string{"mode", "outcome"})
	m.registry.MustRegister(m.critiquesTotal)

	m.llmRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "requests_total",
		Help:      "The total number of LLM requests made.",
	}, []string{"provider", "model"})
	m.registry.MustRegister(m.llmRequestsTotal)

	m.llmTokensSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "tokens_sent_total",
		Help:      "The total number of prompt tokens sent.",
	}, []string{"provider", "model"})
	m.registry.MustRegister(m.llmTokensSent)

	m.llmTokensReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "tokens_received_total",
		Help:      "The total number of completion tokens received.",
	}, []string{"provider", "model"})
	m.registry.MustRegister(m.llmTokensReceived)

	m.channelEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemChannel,
		Name:      "events_total",
		Help:      "Inbound platform events by channel and handling decision.",
	}, []string{"channel", "event"})
	m.registry.MustRegister(m.channelEvents)

	m.watermark = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemChannel,
		Name:      "watermark",
		Help:      "Highest processed mention id per polling channel.",
	}, []string{"channel"})
	m.registry.MustRegister(m.watermark)

	return m
}

func (m *metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *metrics) ObserveCritique(mode, outcome string, elapsed float64) {
	labels := prometheus.Labels{"mode": mode, "outcome": outcome}
	m.critiqueTime.With(labels).Observe(elapsed)
	m.critiquesTotal.With(labels).Inc()
}

func (m *metrics) ObserveLLMRequest(provider, model string) {
	m.llmRequestsTotal.With(prometheus.Labels{"provider": provider, "model": model}).Inc()
}

func (m *metrics) ObserveLLMTokens(provider, model string, prompt, completion int64) {
	labels := prometheus.Labels{"provider": provider, "model": model}
	m.llmTokensSent.With(labels).Add(float64(prompt))
	m.llmTokensReceived.With(labels).Add(float64(completion))
}

func (m *metrics) IncrementChannelEvent(channel, event string) {
	m.channelEvents.With(prometheus.Labels{"channel": channel, "event": event}).Inc()
}

func (m *metrics) SetWatermark(channel string, id float64) {
	m.watermark.With(prometheus.Labels{"channel": channel}).Set(id)
}

type errorLogger struct{}

func (errorLogger) Println(v ...interface{}) {
	logger.WarnCF("metrics", "metric handler error", map[string]interface{}{"detail": v})
}

// NewHandler exposes the registry in the Prometheus text format.
func NewHandler(m Metrics) http.Handler {
	return promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{
		ErrorLog: errorLogger{},
	})
}
