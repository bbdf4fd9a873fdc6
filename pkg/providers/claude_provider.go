package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/artcritic/artcritic/pkg/media"
)

const defaultClaudeMaxTokens = 1024

type ClaudeProvider struct {
	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature float64
	acct        accounting
}

func NewClaudeProvider(opts Options) *ClaudeProvider {
	base := opts.APIBase
	if base == "" {
		base = "https://api.anthropic.com"
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: opts.Timeout}))
	}
	if opts.Name == "" {
		opts.Name = "anthropic"
	}
	client := anthropic.NewClient(reqOpts...)
	return &ClaudeProvider{
		client:      &client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		acct:        newAccounting(opts),
	}
}

func (p *ClaudeProvider) Name() string  { return p.acct.name }
func (p *ClaudeProvider) Model() string { return p.model }

func (p *ClaudeProvider) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return p.send(ctx, OperationComplete, p.maxTokens, systemPrompt, anthropic.NewTextBlock(userMessage))
}

func (p *ClaudeProvider) CompleteWithImage(ctx context.Context, systemPrompt, userText, imageDataURL string) (string, error) {
	return p.CompleteWithImageLimit(ctx, OperationCompleteWithImage, p.maxTokens, systemPrompt, userText, imageDataURL)
}

func (p *ClaudeProvider) CompleteWithImageLimit(ctx context.Context, operation string, maxTokens int, systemPrompt, userText, imageDataURL string) (string, error) {
	mediaType, encoded, err := media.ParseDataURL(imageDataURL)
	if err != nil {
		return "", err
	}
	return p.send(ctx, operation, maxTokens, systemPrompt,
		anthropic.NewTextBlock(userText),
		anthropic.NewImageBlockBase64(mediaType, encoded),
	)
}

func (p *ClaudeProvider) send(ctx context.Context, operation string, maxTokens int, systemPrompt string, blocks ...anthropic.ContentBlockParamUnion) (string, error) {
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if p.temperature > 0 {
		params.Temperature = anthropic.Float(p.temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &APIError{Provider: p.acct.name, StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON()}
		}
		return "", err
	}

	p.acct.record(p.model, operation, resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.InputTokens+resp.Usage.OutputTokens > 0)

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
