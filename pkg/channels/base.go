// Package channels connects chat platforms to the critic. Each adapter turns
// platform events into bus.InboundMessage values and posts the reply back
// threaded to the original message.
package channels

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/artcritic/artcritic/pkg/bus"
	"github.com/artcritic/artcritic/pkg/critique"
	"github.com/artcritic/artcritic/pkg/logger"
	"github.com/artcritic/artcritic/pkg/media"
	"github.com/artcritic/artcritic/pkg/metrics"
	"github.com/artcritic/artcritic/pkg/utils"
)

var ErrAlreadyRunning = errors.New("channel is already running")

const (
	EventReceived    = "received"
	EventIgnored     = "ignored"
	EventNoImage     = "no_image"
	EventReplied     = "replied"
	EventReplyFailed = "reply_failed"
	EventFailed      = "critique_failed"
)

// Channel is the lifecycle every adapter exposes to the app.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// Downloader fetches attachment bytes.
type Downloader interface {
	Fetch(ctx context.Context, url string) (*media.Fetched, error)
}

// Replies controls the text posted back to users.
type Replies struct {
	// ErrorReply, when set, replaces the structured failure detail.
	ErrorReply        string
	MissingImageReply string
	// MaxLength is the platform limit in runes.
	MaxLength int
}

type Deps struct {
	Critic     critique.Critic
	Downloader Downloader
	Mode       critique.Mode
	Replies    Replies
	Metrics    metrics.Metrics
}

type BaseChannel struct {
	name       string
	allowList  []string
	running    atomic.Bool
	critic     critique.Critic
	downloader Downloader
	mode       critique.Mode
	replies    Replies
	metrics    metrics.Metrics
}

func NewBaseChannel(name string, allowList []string, deps Deps) *BaseChannel {
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	dl := deps.Downloader
	if dl == nil {
		dl = media.NewFetcher(media.FetchOptions{LoggerPrefix: name})
	}
	return &BaseChannel{
		name:       name,
		allowList:  allowList,
		critic:     deps.Critic,
		downloader: dl,
		mode:       deps.Mode,
		replies:    deps.Replies,
		metrics:    m,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

// IsAllowed accepts everyone when the list is empty. senderID may be
// "id|username"; either half matches.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	id, username := senderID, ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		id, username = senderID[:idx], senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		allowed = strings.TrimPrefix(allowed, "@")
		if senderID == allowed || id == allowed || (username != "" && strings.EqualFold(username, allowed)) {
			return true
		}
	}
	return false
}

func (c *BaseChannel) recordEvent(event string) {
	c.metrics.IncrementChannelEvent(c.name, event)
}

// HandleMessage downloads the first image of msg, runs the critic and returns
// the reply text. Without an image it returns the missing-image reply and
// never calls the critic.
func (c *BaseChannel) HandleMessage(ctx context.Context, msg bus.InboundMessage, stripTokens ...string) string {
	ref, ok := msg.FirstImage()
	if !ok {
		c.recordEvent(EventNoImage)
		return c.truncate(c.missingImageReply())
	}

	result := c.critiqueRef(ctx, msg, ref, stripTokens)
	if !result.Succeeded {
		c.recordEvent(EventFailed)
		logger.WarnCF(c.name, "Critique not produced", map[string]interface{}{
			"message_id": msg.MessageID,
			"kind":       string(result.Kind),
		})
		if c.replies.ErrorReply != "" {
			return c.truncate(c.replies.ErrorReply)
		}
	}
	return c.truncate(result.Reply())
}

func (c *BaseChannel) critiqueRef(ctx context.Context, msg bus.InboundMessage, ref bus.MediaRef, stripTokens []string) critique.Result {
	if c.critic == nil {
		return critique.Result{
			ErrorDetail: "Something went wrong: critique service is not configured.",
			Kind:        critique.KindCritiqueAPI,
		}
	}

	fetched, err := c.downloader.Fetch(ctx, ref.URL)
	if err != nil {
		logger.ErrorCF(c.name, "Failed to download image", map[string]interface{}{
			"message_id": msg.MessageID,
			"error":      err.Error(),
		})
		return critique.DownloadFailed(err)
	}

	contentType := ref.ImageType()
	// An empty type is sniffed by the pipeline; CDNs often answer octet-stream.
	if contentType == "" && media.IsImageType(fetched.ContentType) {
		contentType = fetched.ContentType
	}
	logger.DebugCF(c.name, "Image downloaded", map[string]interface{}{
		"message_id":   msg.MessageID,
		"filename":     utils.SanitizeFilename(ref.Filename),
		"content_type": contentType,
		"size_bytes":   len(fetched.Data),
	})

	return c.critic.Critique(ctx, critique.Request{
		Image:    critique.ImagePayload{Data: fetched.Data, ContentType: contentType},
		UserText: critique.StripMentions(msg.Content, stripTokens...),
		Mode:     c.mode,
	})
}

func (c *BaseChannel) missingImageReply() string {
	if c.replies.MissingImageReply != "" {
		return c.replies.MissingImageReply
	}
	return "Please attach an image and I'll critique it."
}

func (c *BaseChannel) truncate(s string) string {
	if c.replies.MaxLength <= 0 {
		return s
	}
	return utils.Truncate(s, c.replies.MaxLength)
}
