package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCritiqueCounts(t *testing.T) {
	m := NewMetrics(InstanceInfo{Version: "test"}).(*metrics)

	m.ObserveCritique("direct_image_critique", OutcomeSuccess, 1.2)
	m.ObserveCritique("direct_image_critique", OutcomeSuccess, 0.4)
	m.ObserveCritique("caption_then_critique", "caption", 0.1)

	got := testutil.ToFloat64(m.critiquesTotal.With(prometheus.Labels{"mode": "direct_image_critique", "outcome": OutcomeSuccess}))
	if got != 2 {
		t.Fatalf("critiques_total = %v, want 2", got)
	}
	got = testutil.ToFloat64(m.critiquesTotal.With(prometheus.Labels{"mode": "caption_then_critique", "outcome": "caption"}))
	if got != 1 {
		t.Fatalf("critiques_total = %v, want 1", got)
	}
}

func TestLLMTokensAndWatermark(t *testing.T) {
	m := NewMetrics(InstanceInfo{}).(*metrics)

	m.ObserveLLMRequest("venice", "venice-uncensored")
	m.ObserveLLMTokens("venice", "venice-uncensored", 120, 40)
	m.SetWatermark("twitter", 1850000000000000000)

	labels := prometheus.Labels{"provider": "venice", "model": "venice-uncensored"}
	if v := testutil.ToFloat64(m.llmTokensSent.With(labels)); v != 120 {
		t.Fatalf("tokens sent = %v", v)
	}
	if v := testutil.ToFloat64(m.llmTokensReceived.With(labels)); v != 40 {
		t.Fatalf("tokens received = %v", v)
	}
	if v := testutil.ToFloat64(m.watermark.With(prometheus.Labels{"channel": "twitter"})); v != 1850000000000000000 {
		t.Fatalf("watermark = %v", v)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics(InstanceInfo{Version: "1.2.3"})
	m.IncrementChannelEvent("discord", "processed")

	rec := httptest.NewRecorder()
	NewHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"artcritic_channel_events_total", `version="1.2.3"`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
