package caption

import (
	"context"

	"github.com/artcritic/artcritic/pkg/critique"
	"github.com/artcritic/artcritic/pkg/media"
	"github.com/artcritic/artcritic/pkg/providers"
)

const visionCaptionPrompt = "Describe this image in one factual sentence. Mention the subject, medium, colours and composition. Do not judge it."

// ImageCompleter is the slice of a multimodal provider the vision captioner needs.
type ImageCompleter interface {
	CompleteWithImageLimit(ctx context.Context, operation string, maxTokens int, systemPrompt, userText, imageDataURL string) (string, error)
}

// VisionCaptioner describes images with a multimodal chat model. It stands in
// for a captioning endpoint when only an LLM API is available.
type VisionCaptioner struct {
	llm       ImageCompleter
	maxTokens int
}

func NewVisionCaptioner(llm ImageCompleter, maxTokens int) *VisionCaptioner {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxNewTokens
	}
	return &VisionCaptioner{llm: llm, maxTokens: maxTokens}
}

func (c *VisionCaptioner) Caption(ctx context.Context, image critique.ImagePayload) (string, error) {
	dataURL := media.DataURL(image.ResolvedContentType(), image.Data)
	return c.llm.CompleteWithImageLimit(ctx, providers.OperationCaption, c.maxTokens, "", visionCaptionPrompt, dataURL)
}
