package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/artcritic/artcritic/pkg/config"
	"github.com/artcritic/artcritic/pkg/metrics"
	"github.com/artcritic/artcritic/pkg/usage"
)

// LLMProvider is the surface both SDK-backed providers expose.
type LLMProvider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
	CompleteWithImage(ctx context.Context, systemPrompt, userText, imageDataURL string) (string, error)
	CompleteWithImageLimit(ctx context.Context, operation string, maxTokens int, systemPrompt, userText, imageDataURL string) (string, error)
}

// Deps are the shared sinks handed to every provider built from config.
type Deps struct {
	Usage   usage.Recorder
	Metrics metrics.Metrics
}

// veniceParameters disables Venice's own system prompt so the critic persona
// is the only instruction the model sees.
func veniceParameters() map[string]interface{} {
	return map[string]interface{}{
		"venice_parameters": map[string]interface{}{
			"include_venice_system_prompt": false,
			"enable_web_search":            "auto",
			"enable_web_citations":         false,
		},
	}
}

// CreateProvider builds the named provider serving model.
func CreateProvider(cfg *config.Config, name, model string, deps Deps) (LLMProvider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = InferProviderFromModel(model)
	}
	pc, ok := cfg.Provider(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("no model configured for provider %s", name)
	}

	opts := Options{
		Name:        name,
		APIKey:      pc.APIKey,
		APIBase:     pc.APIBase,
		Model:       model,
		MaxTokens:   cfg.Critic.MaxTokens,
		Temperature: cfg.Critic.Temperature,
		Timeout:     cfg.CriticTimeout(),
		Usage:       deps.Usage,
		Metrics:     deps.Metrics,
	}

	switch name {
	case config.ProviderVenice:
		if opts.APIBase == "" {
			opts.APIBase = config.DefaultVeniceAPIBase
		}
		opts.ExtraBody = veniceParameters()
		return NewOpenAIProvider(opts), nil
	case config.ProviderOpenAI:
		return NewOpenAIProvider(opts), nil
	case config.ProviderAnthropic:
		return NewClaudeProvider(opts), nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

// CreateCriticProviders returns the text critic and the vision critic. They
// are the same instance unless a separate vision provider or model is set.
func CreateCriticProviders(cfg *config.Config, deps Deps) (text LLMProvider, vision LLMProvider, err error) {
	text, err = CreateProvider(cfg, cfg.Critic.Provider, cfg.Critic.Model, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("text critic: %w", err)
	}

	visionModel := strings.TrimSpace(cfg.Critic.VisionModel)
	visionProvider := strings.TrimSpace(cfg.Critic.VisionProvider)
	if visionModel == "" && visionProvider == "" {
		return text, text, nil
	}
	if visionModel == "" {
		visionModel = cfg.Critic.Model
	}
	if visionProvider == "" {
		visionProvider = InferProviderFromModel(visionModel)
	}
	if visionProvider == "" {
		visionProvider = cfg.Critic.Provider
	}

	vision, err = CreateProvider(cfg, visionProvider, visionModel, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("vision critic: %w", err)
	}
	return text, vision, nil
}
