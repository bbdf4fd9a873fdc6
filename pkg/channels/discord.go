package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/artcritic/artcritic/pkg/bus"
	"github.com/artcritic/artcritic/pkg/config"
	"github.com/artcritic/artcritic/pkg/logger"
)

// DiscordMaxMessageLength is Discord's per-message cap.
const DiscordMaxMessageLength = 2000

// handlerRegistry is the part of *discordgo.Session used to subscribe to events.
type handlerRegistry interface {
	AddHandler(handler interface{}) func()
}

// discordSender is the part of *discordgo.Session used for replies.
type discordSender interface {
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

type DiscordChannel struct {
	*BaseChannel
	config  config.DiscordConfig
	session  *discordgo.Session
	sender   discordSender
	handlers handlerRegistry

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	botUserID string
	removers  []func()
}

func NewDiscordChannel(cfg config.DiscordConfig, deps Deps) (*DiscordChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token not configured")
	}
	deps.Replies.MaxLength = DiscordMaxMessageLength
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	// Handlers run one at a time; a new message waits for the previous reply.
	session.SyncEvents = true
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	c := &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", cfg.AllowFrom, deps),
		config:      cfg,
		session:     session,
		sender:      session,
		handlers:    session,
		ctx:         context.Background(),
	}
	return c, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return ErrAlreadyRunning
	}
	logger.InfoC("discord", "Starting Discord bot")

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.ctx, c.cancel = runCtx, cancel
	c.mu.Unlock()
	c.attachHandlers()

	if err := c.session.Open(); err != nil {
		c.detachHandlers()
		cancel()
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	if c.session.State != nil && c.session.State.User != nil {
		c.setBotUser(c.session.State.User.ID)
	}

	c.setRunning(true)
	logger.InfoC("discord", "Discord bot started")
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)
	c.detachHandlers()
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

// attachHandlers subscribes to gateway events. It is a no-op while already
// subscribed, so a restart never delivers a message twice.
func (c *DiscordChannel) attachHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.removers) > 0 {
		return
	}
	c.removers = []func(){
		c.handlers.AddHandler(c.onReady),
		c.handlers.AddHandler(c.onMessageCreate),
	}
}

func (c *DiscordChannel) detachHandlers() {
	c.mu.Lock()
	removers := c.removers
	c.removers = nil
	c.mu.Unlock()
	for _, remove := range removers {
		remove()
	}
}

func (c *DiscordChannel) runContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

func (c *DiscordChannel) setBotUser(id string) {
	c.mu.Lock()
	c.botUserID = id
	c.mu.Unlock()
}

func (c *DiscordChannel) botUser() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botUserID
}

func (c *DiscordChannel) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	c.setBotUser(r.User.ID)
	logger.InfoCF("discord", "Art critic is live", map[string]interface{}{
		"user":    r.User.String(),
		"user_id": r.User.ID,
		"guilds":  len(r.Guilds),
	})
}

func (c *DiscordChannel) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	c.handleMessage(c.runContext(), m.Message)
}

func (c *DiscordChannel) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil {
		return
	}
	botID := c.botUser()
	if botID != "" && m.Author.ID == botID {
		return
	}
	c.recordEvent(EventReceived)

	senderID := m.Author.ID
	if m.Author.Username != "" {
		senderID = m.Author.ID + "|" + m.Author.Username
	}
	if !c.IsAllowed(senderID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]interface{}{
			"user_id":  m.Author.ID,
			"username": m.Author.Username,
		})
		c.recordEvent(EventIgnored)
		return
	}

	msg := toInbound(m, botID)
	if c.config.RequireMention && !msg.Mentioned {
		c.recordEvent(EventIgnored)
		return
	}
	if _, ok := msg.FirstImage(); !ok {
		// Unprompted chatter without an image is not addressed to the critic.
		if !msg.Mentioned {
			c.recordEvent(EventIgnored)
			return
		}
	} else {
		if err := c.sender.ChannelTyping(m.ChannelID); err != nil {
			logger.DebugCF("discord", "Failed to send typing indicator", map[string]interface{}{
				"channel_id": m.ChannelID,
				"error":      err.Error(),
			})
		}
	}

	logger.InfoCF("discord", "Handling message", map[string]interface{}{
		"message_id":  m.ID,
		"channel_id":  m.ChannelID,
		"sender_id":   senderID,
		"attachments": len(m.Attachments),
	})

	reply := c.HandleMessage(ctx, msg, mentionTokens(botID)...)
	c.send(bus.OutboundMessage{
		Channel:   "discord",
		ChatID:    m.ChannelID,
		ReplyToID: m.ID,
		Content:   reply,
	}, m)
}

func (c *DiscordChannel) send(out bus.OutboundMessage, original *discordgo.Message) {
	if strings.TrimSpace(out.Content) == "" {
		return
	}
	if _, err := c.sender.ChannelMessageSendReply(out.ChatID, out.Content, original.Reference()); err != nil {
		c.recordEvent(EventReplyFailed)
		logger.ErrorCF("discord", "Failed to send reply", map[string]interface{}{
			"channel_id": out.ChatID,
			"message_id": out.ReplyToID,
			"error":      err.Error(),
		})
		return
	}
	c.recordEvent(EventReplied)
}

func toInbound(m *discordgo.Message, botID string) bus.InboundMessage {
	msg := bus.InboundMessage{
		Channel:   "discord",
		SenderID:  m.Author.ID,
		ChatID:    m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Metadata: map[string]string{
			"guild_id": m.GuildID,
			"username": m.Author.Username,
		},
	}
	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		msg.Media = append(msg.Media, bus.MediaRef{
			URL:         att.URL,
			ContentType: att.ContentType,
			Filename:    att.Filename,
		})
	}
	if botID != "" {
		for _, u := range m.Mentions {
			if u != nil && u.ID == botID {
				msg.Mentioned = true
				break
			}
		}
		if !msg.Mentioned {
			for _, tok := range mentionTokens(botID) {
				if strings.Contains(m.Content, tok) {
					msg.Mentioned = true
					break
				}
			}
		}
	}
	return msg
}

func mentionTokens(botID string) []string {
	if botID == "" {
		return nil
	}
	return []string{"<@" + botID + ">", "<@!" + botID + ">"}
}
