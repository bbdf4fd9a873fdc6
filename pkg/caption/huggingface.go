// Package caption provides the image-to-text collaborators used by the
// caption-then-critique mode.
package caption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/artcritic/artcritic/pkg/critique"
	"github.com/artcritic/artcritic/pkg/logger"
	"github.com/artcritic/artcritic/pkg/media"
	"github.com/artcritic/artcritic/pkg/metrics"
	"github.com/artcritic/artcritic/pkg/usage"
)

const (
	DefaultModel        = "Salesforce/blip-image-captioning-base"
	DefaultMaxNewTokens = 50
)

var ErrEmptyCaption = errors.New("captioner returned no text")

type HuggingFaceOptions struct {
	APIBase      string
	APIKey       string
	Model        string
	MaxNewTokens int
	Timeout      time.Duration
	Usage        usage.Recorder
	Metrics      metrics.Metrics
}

// HuggingFaceCaptioner runs a BLIP-style image-to-text model on a hosted
// inference endpoint.
type HuggingFaceCaptioner struct {
	client       *resty.Client
	model        string
	maxNewTokens int
	usage        usage.Recorder
	metrics      metrics.Metrics
}

type inferenceRequest struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceParameters struct {
	MaxNewTokens int `json:"max_new_tokens"`
}

type generatedText struct {
	GeneratedText string `json:"generated_text"`
}

func NewHuggingFaceCaptioner(opts HuggingFaceOptions) *HuggingFaceCaptioner {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxNewTokens <= 0 {
		opts.MaxNewTokens = DefaultMaxNewTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.APIBase, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}

	return &HuggingFaceCaptioner{
		client:       client,
		model:        opts.Model,
		maxNewTokens: opts.MaxNewTokens,
		usage:        opts.Usage,
		metrics:      opts.Metrics,
	}
}

// Caption normalises the image to RGB JPEG before upload so palette, alpha and
// WebP inputs all reach the model in the same form.
func (c *HuggingFaceCaptioner) Caption(ctx context.Context, image critique.ImagePayload) (string, error) {
	jpegBytes, err := media.ToRGBJPEG(image.Data)
	if err != nil {
		return "", fmt.Errorf("normalise image: %w", err)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(inferenceRequest{
			Inputs:     base64.StdEncoding.EncodeToString(jpegBytes),
			Parameters: inferenceParameters{MaxNewTokens: c.maxNewTokens},
		}).
		Post("/" + c.model)
	if err != nil {
		return "", fmt.Errorf("caption request: %w", err)
	}
	c.metrics.ObserveLLMRequest("huggingface", c.model)

	if resp.StatusCode() != http.StatusOK {
		logger.WarnCF("caption", "Inference endpoint returned an error", map[string]interface{}{
			"model":  c.model,
			"status": resp.StatusCode(),
		})
		return "", fmt.Errorf("caption endpoint returned %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}

	var out []generatedText
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode caption response: %w", err)
	}
	if len(out) == 0 || strings.TrimSpace(out[0].GeneratedText) == "" {
		return "", ErrEmptyCaption
	}

	if c.usage != nil {
		if err := c.usage.Append(usage.Record{
			Provider:  "huggingface",
			Model:     c.model,
			Operation: "caption",
		}); err != nil {
			logger.WarnCF("caption", "Failed to record usage", map[string]interface{}{"error": err.Error()})
		}
	}
	return strings.TrimSpace(out[0].GeneratedText), nil
}
