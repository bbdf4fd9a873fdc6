package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/artcritic/artcritic/pkg/logger"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (Venice, OpenAI, OpenRouter, local servers).
type OpenAIProvider struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64
	extraBody   map[string]interface{}
	acct        accounting
}

func NewOpenAIProvider(opts Options) *OpenAIProvider {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
	}
	if opts.APIBase != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimSuffix(opts.APIBase, "/")+"/"))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: opts.Timeout}))
	}
	// The SDK retries by default; a failed critique is reported, not retried.
	reqOpts = append(reqOpts, option.WithMaxRetries(0))

	if opts.Name == "" {
		opts.Name = "openai"
	}

	return &OpenAIProvider{
		client:      openai.NewClient(reqOpts...),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		extraBody:   opts.ExtraBody,
		acct:        newAccounting(opts),
	}
}

func (p *OpenAIProvider) Name() string  { return p.acct.name }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return p.chat(ctx, OperationComplete, p.maxTokens, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userMessage),
	})
}

func (p *OpenAIProvider) CompleteWithImage(ctx context.Context, systemPrompt, userText, imageDataURL string) (string, error) {
	return p.CompleteWithImageLimit(ctx, OperationCompleteWithImage, p.maxTokens, systemPrompt, userText, imageDataURL)
}

// CompleteWithImageLimit is CompleteWithImage with an explicit output cap. The
// vision captioner uses it to keep descriptions short.
func (p *OpenAIProvider) CompleteWithImageLimit(ctx context.Context, operation string, maxTokens int, systemPrompt, userText, imageDataURL string) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(userText),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: imageDataURL}),
	}
	messages := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(parts))
	return p.chat(ctx, operation, maxTokens, messages)
}

func (p *OpenAIProvider) chat(ctx context.Context, operation string, maxTokens int, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}

	var reqOpts []option.RequestOption
	for k, v := range p.extraBody {
		reqOpts = append(reqOpts, option.WithJSONSet(k, v))
	}

	logger.DebugCF("providers", "Chat completion request", map[string]interface{}{
		"provider":  p.acct.name,
		"model":     p.model,
		"operation": operation,
	})

	resp, err := p.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &APIError{Provider: p.acct.name, StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON()}
		}
		return "", err
	}

	p.acct.record(p.model, operation, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens > 0)

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
