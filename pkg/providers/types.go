package providers

import (
	"errors"
	"fmt"
	"time"

	"github.com/artcritic/artcritic/pkg/logger"
	"github.com/artcritic/artcritic/pkg/metrics"
	"github.com/artcritic/artcritic/pkg/usage"
)

// APIError is a non-2xx reply from a model endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

// ErrEmptyResponse means the endpoint answered 2xx without a usable choice.
var ErrEmptyResponse = errors.New("model returned no content")

const (
	OperationComplete          = "complete"
	OperationCompleteWithImage = "complete_with_image"
	OperationCaption           = "caption"
)

// Options shared by every provider constructor.
type Options struct {
	Name        string
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// ExtraBody is merged into every request body at the top level.
	ExtraBody map[string]interface{}
	Usage     usage.Recorder
	Metrics   metrics.Metrics
}

type accounting struct {
	name    string
	usage   usage.Recorder
	metrics metrics.Metrics
}

func newAccounting(opts Options) accounting {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return accounting{name: opts.Name, usage: opts.Usage, metrics: m}
}

func (a accounting) record(model, operation string, prompt, completion int64, known bool) {
	a.metrics.ObserveLLMRequest(a.name, model)
	if known {
		a.metrics.ObserveLLMTokens(a.name, model, prompt, completion)
	}
	if a.usage == nil {
		return
	}
	err := a.usage.Append(usage.Record{
		Provider:         a.name,
		Model:            model,
		Operation:        operation,
		PromptTokens:     int(prompt),
		CompletionTokens: int(completion),
		UsageKnown:       known,
	})
	if err != nil {
		logger.WarnCF("providers", "Failed to record usage", map[string]interface{}{
			"provider": a.name,
			"error":    err.Error(),
		})
	}
}
