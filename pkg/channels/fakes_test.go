package channels

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/artcritic/artcritic/pkg/critique"
	"github.com/artcritic/artcritic/pkg/media"
	"github.com/artcritic/artcritic/pkg/twitter"
)

type fakeCritic struct {
	mu     sync.Mutex
	reqs   []critique.Request
	result critique.Result
}

func (f *fakeCritic) Critique(_ context.Context, req critique.Request) critique.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.result
}

func (f *fakeCritic) calls() []critique.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]critique.Request(nil), f.reqs...)
}

type fakeDownloader struct {
	mu   sync.Mutex
	urls []string
	data []byte
	ct   string
	err  error
}

func (f *fakeDownloader) Fetch(_ context.Context, url string) (*media.Fetched, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &media.Fetched{Data: f.data, ContentType: f.ct}, nil
}

type sentReply struct {
	channelID string
	content   string
	replyTo   string
}

type fakeDiscordSender struct {
	mu        sync.Mutex
	replies   []sentReply
	typing    int
	err       error
	typingErr error
}

func (f *fakeDiscordSender) ChannelMessageSendReply(channelID string, content string, ref *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	replyTo := ""
	if ref != nil {
		replyTo = ref.MessageID
	}
	f.replies = append(f.replies, sentReply{channelID: channelID, content: content, replyTo: replyTo})
	return &discordgo.Message{ID: "reply"}, nil
}

func (f *fakeDiscordSender) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return f.typingErr
}

func (f *fakeDiscordSender) sent() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReply(nil), f.replies...)
}

type postedReply struct {
	text      string
	inReplyTo string
}

type fakeMentionSource struct {
	mu      sync.Mutex
	me      twitter.User
	batches [][]twitter.Mention
	calls   int
	since   []string
	posted  []postedReply
	postErr error
}

var errNoMoreBatches = errors.New("no more batches")

// MentionsSince ignores sinceID and replays the configured batches in order,
// repeating the last one. This models an API that re-delivers old mentions.
func (f *fakeMentionSource) MentionsSince(_ context.Context, sinceID string) ([]twitter.Mention, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, sinceID)
	if len(f.batches) == 0 {
		return nil, errNoMoreBatches
	}
	i := f.calls
	if i >= len(f.batches) {
		i = len(f.batches) - 1
	}
	f.calls++
	return append([]twitter.Mention(nil), f.batches[i]...), nil
}

func (f *fakeMentionSource) Me(context.Context) (*twitter.User, error) {
	u := f.me
	return &u, nil
}

func (f *fakeMentionSource) PostReply(_ context.Context, text, inReplyTo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.posted = append(f.posted, postedReply{text: text, inReplyTo: inReplyTo})
	return "r" + inReplyTo, nil
}

func (f *fakeMentionSource) replies() []postedReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postedReply(nil), f.posted...)
}

// fakeHandlers tracks which event handlers are currently subscribed.
type fakeHandlers struct {
	mu     sync.Mutex
	next   int
	active map[int]bool
}

func (f *fakeHandlers) AddHandler(interface{}) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		f.active = map[int]bool{}
	}
	id := f.next
	f.next++
	f.active[id] = true
	return func() {
		f.mu.Lock()
		delete(f.active, id)
		f.mu.Unlock()
	}
}

func (f *fakeHandlers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}
