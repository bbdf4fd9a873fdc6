// Package critique turns an image, plus optional user text, into a short art critique.
//
// Two modes are supported. CaptionThenCritique asks a captioning model for a
// description and sends only that text to a language model. DirectImageCritique
// sends the image itself to a multimodal model. Whatever fails along the way, the
// pipeline hands back a Result instead of an error, so adapters can always reply.
package critique

import (
	"context"
	"fmt"
	"strings"

	"github.com/artcritic/artcritic/pkg/media"
)

type Mode string

const (
	CaptionThenCritique Mode = "caption_then_critique"
	DirectImageCritique Mode = "direct_image_critique"
)

// ParseMode accepts the config spellings, ignoring case and surrounding space.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(CaptionThenCritique):
		return CaptionThenCritique, nil
	case string(DirectImageCritique):
		return DirectImageCritique, nil
	}
	return "", fmt.Errorf("unknown critique mode %q", s)
}

// ImagePayload is raw image bytes plus the content type the platform declared.
type ImagePayload struct {
	Data        []byte
	ContentType string
}

func (p ImagePayload) validate() error {
	if len(p.Data) == 0 {
		return &InvalidInputError{Reason: "image is empty"}
	}
	if p.ContentType != "" && !media.IsImageType(p.ContentType) {
		return &InvalidInputError{Reason: fmt.Sprintf("content type %q is not an image", p.ContentType)}
	}
	if p.ContentType == "" {
		// Unrecognised bytes fall through to image/jpeg; a known non-image does not.
		sniffed := media.DetectContentType(p.Data)
		if sniffed != "" && sniffed != "application/octet-stream" && !media.IsImageType(sniffed) {
			return &InvalidInputError{Reason: fmt.Sprintf("content looks like %q, not an image", sniffed)}
		}
	}
	return nil
}

// ResolvedContentType is the type sent upstream: declared, sniffed, or image/jpeg.
func (p ImagePayload) ResolvedContentType() string {
	return media.ResolveImageType(p.ContentType, p.Data)
}

// Request is built by an adapter per inbound event. An empty Mode uses the
// pipeline's default.
type Request struct {
	Image    ImagePayload
	UserText string
	Mode     Mode
}

// Result is what an adapter posts back. Err is for logs only.
type Result struct {
	Text        string
	Succeeded   bool
	ErrorDetail string
	Kind        ErrorKind
	Err         error `json:"-"`
}

// Reply is the text an adapter should post: the critique, or the error detail.
func (r Result) Reply() string {
	if r.Succeeded {
		return r.Text
	}
	return r.ErrorDetail
}

// Captioner produces a short factual description of an image.
type Captioner interface {
	Caption(ctx context.Context, image ImagePayload) (string, error)
}

// TextCritic completes a system prompt plus a single user message.
type TextCritic interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// VisionCritic completes a system prompt plus a user message carrying an image.
type VisionCritic interface {
	CompleteWithImage(ctx context.Context, systemPrompt, userText, imageDataURL string) (string, error)
}

// Critic is what the platform adapters depend on.
type Critic interface {
	Critique(ctx context.Context, req Request) Result
}
