package metrics

import "github.com/prometheus/client_golang/prometheus"

type noopMetrics struct {
	registry *prometheus.Registry
}

// NewNoop discards observations. Its registry is empty but usable.
func NewNoop() Metrics {
	return &noopMetrics{registry: prometheus.NewRegistry()}
}

func (n *noopMetrics) GetRegistry() *prometheus.Registry { return n.registry }
func (n *noopMetrics) ObserveCritique(string, string, float64) {}
func (n *noopMetrics) ObserveLLMRequest(string, string) {}
func (n *noopMetrics) ObserveLLMTokens(string, string, int64, int64) {}
func (n *noopMetrics) IncrementChannelEvent(string, string) {}
func (n *noopMetrics) SetWatermark(string, float64) {}
