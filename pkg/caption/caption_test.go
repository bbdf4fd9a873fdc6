package caption

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artcritic/artcritic/pkg/critique"
	"github.com/artcritic/artcritic/pkg/usage"
)

func redPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestHuggingFaceCaptioner(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotReq  inferenceRequest
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`[{"generated_text":" a red square "}]`))
	}))
	defer ts.Close()

	store := usage.NewStore("")
	c := NewHuggingFaceCaptioner(HuggingFaceOptions{APIBase: ts.URL, APIKey: "hf_key", Usage: store})
	got, err := c.Caption(context.Background(), critique.ImagePayload{Data: redPNG(t), ContentType: "image/png"})
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	if got != "a red square" {
		t.Fatalf("caption = %q", got)
	}
	if gotPath != "/"+DefaultModel {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer hf_key" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotReq.Parameters.MaxNewTokens != 50 {
		t.Fatalf("max_new_tokens = %d", gotReq.Parameters.MaxNewTokens)
	}
	raw, err := base64.StdEncoding.DecodeString(gotReq.Inputs)
	if err != nil {
		t.Fatalf("inputs not base64: %v", err)
	}
	if len(raw) < 3 || raw[0] != 0xFF || raw[1] != 0xD8 {
		t.Fatal("inputs should be a JPEG")
	}
	if recs := store.Query(usage.Filter{Operation: "caption"}); len(recs) != 1 {
		t.Fatalf("usage records = %d", len(recs))
	}
}

func TestHuggingFaceCaptionerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"loading", http.StatusServiceUnavailable, `{"error":"Model is loading"}`},
		{"empty list", http.StatusOK, `[]`},
		{"blank text", http.StatusOK, `[{"generated_text":"  "}]`},
		{"not json", http.StatusOK, `nope`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			c := NewHuggingFaceCaptioner(HuggingFaceOptions{APIBase: ts.URL})
			if _, err := c.Caption(context.Background(), critique.ImagePayload{Data: redPNG(t)}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHuggingFaceCaptionerRejectsUndecodableImage(t *testing.T) {
	var called atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer ts.Close()

	c := NewHuggingFaceCaptioner(HuggingFaceOptions{APIBase: ts.URL})
	if _, err := c.Caption(context.Background(), critique.ImagePayload{Data: []byte("not an image")}); err == nil {
		t.Fatal("expected decode error")
	}
	if called.Load() {
		t.Fatal("endpoint should not be called for undecodable input")
	}
}

type fakeCompleter struct {
	maxTokens int
	userText  string
	dataURL   string
	reply     string
	err       error
}

func (f *fakeCompleter) CompleteWithImageLimit(_ context.Context, _ string, maxTokens int, _, userText, dataURL string) (string, error) {
	f.maxTokens = maxTokens
	f.userText = userText
	f.dataURL = dataURL
	return f.reply, f.err
}

func TestVisionCaptioner(t *testing.T) {
	llm := &fakeCompleter{reply: "A red square on a white ground."}
	c := NewVisionCaptioner(llm, 0)

	got, err := c.Caption(context.Background(), critique.ImagePayload{Data: redPNG(t)})
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	if got != llm.reply {
		t.Fatalf("caption = %q", got)
	}
	if llm.maxTokens != DefaultMaxNewTokens {
		t.Fatalf("max tokens = %d", llm.maxTokens)
	}
	if !strings.HasPrefix(llm.dataURL, "data:image/png;base64,") {
		t.Fatalf("data url = %q", llm.dataURL)
	}

	llm.err = errors.New("boom")
	if _, err := c.Caption(context.Background(), critique.ImagePayload{Data: redPNG(t)}); err == nil {
		t.Fatal("expected error to propagate")
	}
}

type slowCaptioner struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowCaptioner) Caption(context.Context, critique.ImagePayload) (string, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return "ok", nil
}

func TestSerializedRunsOneAtATime(t *testing.T) {
	inner := &slowCaptioner{}
	c := NewSerialized(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Caption(context.Background(), critique.ImagePayload{Data: []byte{1}})
		}()
	}
	wg.Wait()

	if got := inner.peak.Load(); got != 1 {
		t.Fatalf("peak concurrency = %d, want 1", got)
	}
}

func TestSerializedHonoursCancelledContext(t *testing.T) {
	c := NewSerialized(&slowCaptioner{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Caption(ctx, critique.ImagePayload{Data: []byte{1}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
