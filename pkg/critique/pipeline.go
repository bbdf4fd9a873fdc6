package critique

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artcritic/artcritic/pkg/logger"
	"github.com/artcritic/artcritic/pkg/media"
	"github.com/artcritic/artcritic/pkg/metrics"
)

type Options struct {
	Captioner    Captioner
	TextCritic   TextCritic
	VisionCritic VisionCritic
	DefaultMode  Mode
	Metrics      metrics.Metrics
}

// Pipeline holds only references to its collaborators; it keeps no per-request state.
type Pipeline struct {
	captioner   Captioner
	text        TextCritic
	vision      VisionCritic
	defaultMode Mode
	metrics     metrics.Metrics
}

func NewPipeline(opts Options) *Pipeline {
	mode := opts.DefaultMode
	if mode == "" {
		mode = CaptionThenCritique
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Pipeline{
		captioner:   opts.Captioner,
		text:        opts.TextCritic,
		vision:      opts.VisionCritic,
		defaultMode: mode,
		metrics:     m,
	}
}

func (p *Pipeline) DefaultMode() Mode {
	return p.defaultMode
}

func (p *Pipeline) Critique(ctx context.Context, req Request) Result {
	mode := req.Mode
	if mode == "" {
		mode = p.defaultMode
	}
	requestID := uuid.NewString()
	start := time.Now()

	text, err := p.run(ctx, req, mode, requestID)
	elapsed := time.Since(start)

	if err != nil {
		kind := kindOf(err)
		p.metrics.ObserveCritique(string(mode), string(kind), elapsed.Seconds())
		logger.WarnCF("pipeline", "Critique failed", map[string]interface{}{
			"request_id": requestID,
			"mode":       string(mode),
			"kind":       string(kind),
			"error":      err.Error(),
		})
		return Result{
			Succeeded:   false,
			ErrorDetail: userDetail(err),
			Kind:        kind,
			Err:         err,
		}
	}

	p.metrics.ObserveCritique(string(mode), metrics.OutcomeSuccess, elapsed.Seconds())
	logger.InfoCF("pipeline", "Critique ready", map[string]interface{}{
		"request_id":  requestID,
		"mode":        string(mode),
		"duration_ms": elapsed.Milliseconds(),
		"chars":       len(text),
	})
	return Result{Text: text, Succeeded: true}
}

func (p *Pipeline) run(ctx context.Context, req Request, mode Mode, requestID string) (string, error) {
	if err := req.Image.validate(); err != nil {
		return "", err
	}

	switch mode {
	case CaptionThenCritique:
		return p.captionThenCritique(ctx, req, requestID)
	case DirectImageCritique:
		return p.directCritique(ctx, req)
	}
	return "", &InvalidInputError{Reason: "unknown critique mode " + string(mode)}
}

func (p *Pipeline) captionThenCritique(ctx context.Context, req Request, requestID string) (string, error) {
	if p.captioner == nil || p.text == nil {
		return "", &CritiqueAPIError{Err: errNotConfigured}
	}

	description, err := p.captioner.Caption(ctx, req.Image)
	if err != nil {
		return "", &CaptionError{Err: err}
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return "", &CaptionError{}
	}
	logger.DebugCF("pipeline", "Image described", map[string]interface{}{
		"request_id":  requestID,
		"description": description,
	})

	out, err := p.text.Complete(ctx, SystemPrompt, BuildCaptionPrompt(description))
	if err != nil {
		return "", classifyLLMError(err)
	}
	return finish(out)
}

func (p *Pipeline) directCritique(ctx context.Context, req Request) (string, error) {
	if p.vision == nil {
		return "", &CritiqueAPIError{Err: errNotConfigured}
	}

	dataURL := media.DataURL(req.Image.ResolvedContentType(), req.Image.Data)
	out, err := p.vision.CompleteWithImage(ctx, SystemPrompt, BuildDirectPrompt(req.UserText), dataURL)
	if err != nil {
		return "", classifyLLMError(err)
	}
	return finish(out)
}

func finish(out string) (string, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &CritiqueAPIError{}
	}
	return out, nil
}
