package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"github.com/artcritic/artcritic/pkg/bus"
	"github.com/artcritic/artcritic/pkg/config"
	"github.com/artcritic/artcritic/pkg/logger"
	"github.com/artcritic/artcritic/pkg/state"
	"github.com/artcritic/artcritic/pkg/twitter"
)

// MentionSource is the part of the X API client the poller needs.
type MentionSource interface {
	Me(ctx context.Context) (*twitter.User, error)
	MentionsSince(ctx context.Context, sinceID string) ([]twitter.Mention, error)
	PostReply(ctx context.Context, text, inReplyTo string) (string, error)
}

// TwitterChannel polls mentions and answers each photo mention once. The
// watermark only moves forward, so a mention is never answered twice even
// when its critique or reply failed.
type TwitterChannel struct {
	*BaseChannel
	config    config.TwitterConfig
	client    MentionSource
	watermark state.WatermarkStore
	interval  time.Duration
	schedule  string

	looping atomic.Bool
	mu      sync.Mutex
	me      *twitter.User
	cancel  context.CancelFunc
	done    chan struct{}
	now     func() time.Time
}

func NewTwitterChannel(cfg config.TwitterConfig, client MentionSource, watermark state.WatermarkStore, deps Deps) (*TwitterChannel, error) {
	if client == nil {
		return nil, fmt.Errorf("twitter client not configured")
	}
	if watermark == nil {
		watermark = state.NewMemoryWatermark("")
	}
	if cfg.PollSchedule != "" && !gronx.New().IsValid(cfg.PollSchedule) {
		return nil, fmt.Errorf("invalid poll_schedule %q", cfg.PollSchedule)
	}
	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = config.DefaultPollIntervalSeconds * time.Second
	}
	deps.Replies.MaxLength = twitter.MaxTweetLength

	return &TwitterChannel{
		BaseChannel: NewBaseChannel("twitter", cfg.AllowFrom, deps),
		config:      cfg,
		client:      client,
		watermark:   watermark,
		interval:    interval,
		schedule:    cfg.PollSchedule,
		now:         time.Now,
	}, nil
}

// Start runs the poll loop in the background.
func (c *TwitterChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := c.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCF("twitter", "Mention loop stopped", map[string]interface{}{
				"error": err.Error(),
			})
		}
		c.mu.Lock()
		c.cancel, c.done = nil, nil
		c.mu.Unlock()
	}()
	return nil
}

func (c *TwitterChannel) Stop(ctx context.Context) error {
	logger.InfoC("twitter", "Stopping mention loop")
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run polls until ctx is cancelled. Only one Run may be active per channel.
func (c *TwitterChannel) Run(ctx context.Context) error {
	if !c.looping.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.looping.Store(false)
	c.setRunning(true)
	defer c.setRunning(false)

	if me, err := c.identity(ctx); err != nil {
		logger.WarnCF("twitter", "Could not resolve bot account yet", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		logger.InfoCF("twitter", "Art critic is live", map[string]interface{}{
			"handle": "@" + me.Username,
		})
	}

	for {
		if _, err := c.Tick(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorCF("twitter", "Poll failed", map[string]interface{}{
				"error": err.Error(),
			})
		}

		timer := time.NewTimer(c.nextWait(c.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *TwitterChannel) nextWait(now time.Time) time.Duration {
	if c.schedule != "" {
		next, err := gronx.NextTickAfter(c.schedule, now, false)
		if err == nil && next.After(now) {
			return next.Sub(now)
		}
	}
	return c.interval
}

func (c *TwitterChannel) identity(ctx context.Context) (*twitter.User, error) {
	c.mu.Lock()
	me := c.me
	c.mu.Unlock()
	if me != nil {
		return me, nil
	}
	me, err := c.client.Me(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.me = me
	c.mu.Unlock()
	return me, nil
}

// Tick fetches one batch of mentions and answers the qualifying ones, oldest
// first. It returns how many replies were attempted.
func (c *TwitterChannel) Tick(ctx context.Context) (int, error) {
	me, err := c.identity(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve bot account: %w", err)
	}
	last, err := c.watermark.Get()
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	mentions, err := c.client.MentionsSince(ctx, last)
	if err != nil {
		return 0, fmt.Errorf("fetch mentions: %w", err)
	}

	sort.SliceStable(mentions, func(i, j int) bool {
		return twitter.CompareIDs(mentions[i].ID, mentions[j].ID) < 0
	})

	newest := last
	attempted := 0
	for _, m := range mentions {
		if ctx.Err() != nil {
			break
		}
		if twitter.CompareIDs(m.ID, last) <= 0 {
			continue
		}
		newest = twitter.MaxID(newest, m.ID)
		c.recordEvent(EventReceived)

		if m.AuthorID == me.ID {
			c.recordEvent(EventIgnored)
			continue
		}
		senderID := m.AuthorID
		if m.AuthorUsername != "" {
			senderID = m.AuthorID + "|" + m.AuthorUsername
		}
		if !c.IsAllowed(senderID) {
			c.recordEvent(EventIgnored)
			continue
		}
		msg := mentionToInbound(m)
		if _, ok := msg.FirstImage(); !ok {
			c.recordEvent(EventNoImage)
			continue
		}

		attempted++
		logger.InfoCF("twitter", "Handling mention", map[string]interface{}{
			"tweet_id": m.ID,
			"author":   m.AuthorUsername,
		})
		reply := c.HandleMessage(ctx, msg, "@"+me.Username)
		if _, err := c.client.PostReply(ctx, reply, m.ID); err != nil {
			c.recordEvent(EventReplyFailed)
			logger.ErrorCF("twitter", "Failed to post reply", map[string]interface{}{
				"tweet_id": m.ID,
				"error":    err.Error(),
			})
			continue
		}
		c.recordEvent(EventReplied)
	}

	if twitter.CompareIDs(newest, last) > 0 {
		if err := c.watermark.Set(newest); err != nil {
			return attempted, fmt.Errorf("save watermark: %w", err)
		}
		if f, err := strconv.ParseFloat(newest, 64); err == nil {
			c.metrics.SetWatermark(c.name, f)
		}
		logger.DebugCF("twitter", "Watermark advanced", map[string]interface{}{
			"from": last,
			"to":   newest,
		})
	}
	return attempted, nil
}

// LoopRunning reports whether Run is active.
func (c *TwitterChannel) LoopRunning() bool {
	return c.looping.Load()
}

func mentionToInbound(m twitter.Mention) bus.InboundMessage {
	msg := bus.InboundMessage{
		Channel:   "twitter",
		SenderID:  m.AuthorID,
		ChatID:    m.ID,
		MessageID: m.ID,
		Content:   m.Text,
		Mentioned: true,
		Metadata:  map[string]string{"username": m.AuthorUsername},
	}
	for _, u := range m.PhotoURLs {
		// Photos are always images; the extension may be missing from the URL.
		msg.Media = append(msg.Media, bus.MediaRef{URL: u, ContentType: typeFromPhotoURL(u)})
	}
	return msg
}

func typeFromPhotoURL(u string) string {
	ref := bus.MediaRef{URL: u}
	if t := ref.ImageType(); t != "" {
		return t
	}
	return "image/jpeg"
}
