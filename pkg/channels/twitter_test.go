package channels

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/artcritic/artcritic/pkg/config"
	"github.com/artcritic/artcritic/pkg/critique"
	"github.com/artcritic/artcritic/pkg/state"
	"github.com/artcritic/artcritic/pkg/twitter"
)

func photoMention(id, author, text string) twitter.Mention {
	return twitter.Mention{
		ID:             id,
		Text:           text,
		AuthorID:       author,
		AuthorUsername: "user" + author,
		PhotoURLs:      []string{"https://pbs.example/" + id + ".jpg"},
	}
}

func newTestTwitter(t *testing.T, src *fakeMentionSource, wm state.WatermarkStore, critic *fakeCritic) *TwitterChannel {
	t.Helper()
	if src.me.ID == "" {
		src.me = twitter.User{ID: "99", Username: "artcriticbot"}
	}
	c, err := NewTwitterChannel(config.TwitterConfig{PollIntervalSeconds: 15}, src, wm, Deps{
		Critic:     critic,
		Downloader: &fakeDownloader{data: []byte{0xFF, 0xD8, 0xFF}},
	})
	if err != nil {
		t.Fatalf("NewTwitterChannel: %v", err)
	}
	return c
}

func TestTwitterTickProcessesBatchOldestFirst(t *testing.T) {
	src := &fakeMentionSource{batches: [][]twitter.Mention{{
		photoMention("1000", "7", "@artcriticbot judge this"),
		{ID: "990", Text: "@artcriticbot no photo", AuthorID: "8"},
		photoMention("980", "99", "@artcriticbot self"),
		photoMention("970", "9", "@artcriticbot old one"),
	}}}
	wm := state.NewMemoryWatermark("900")
	critic := &fakeCritic{result: critique.Result{Text: "Daringly mid.", Succeeded: true}}
	c := newTestTwitter(t, src, wm, critic)

	n, err := c.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 2 {
		t.Fatalf("attempted = %d, want 2", n)
	}

	replies := src.replies()
	if len(replies) != 2 || replies[0].inReplyTo != "970" || replies[1].inReplyTo != "1000" {
		t.Fatalf("replies = %+v", replies)
	}
	if replies[0].text != "Daringly mid." {
		t.Fatalf("reply text = %q", replies[0].text)
	}
	if got := critic.calls()[1].UserText; got != "judge this" {
		t.Fatalf("user text = %q", got)
	}
	if id, _ := wm.Get(); id != "1000" {
		t.Fatalf("watermark = %q, want 1000", id)
	}
	if src.since[0] != "900" {
		t.Fatalf("since = %v", src.since)
	}
}

func TestTwitterAnswersEachMentionOnce(t *testing.T) {
	batch := []twitter.Mention{photoMention("10", "7", "a"), photoMention("11", "7", "b")}
	src := &fakeMentionSource{batches: [][]twitter.Mention{
		batch,
		append(batch, photoMention("12", "7", "c")),
	}}
	wm := state.NewMemoryWatermark("")
	c := newTestTwitter(t, src, wm, &fakeCritic{result: critique.Result{Text: "ok", Succeeded: true}})

	for i := 0; i < 3; i++ {
		if _, err := c.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	seen := map[string]int{}
	for _, r := range src.replies() {
		seen[r.inReplyTo]++
	}
	for _, id := range []string{"10", "11", "12"} {
		if seen[id] != 1 {
			t.Fatalf("mention %s answered %d times", id, seen[id])
		}
	}
	if id, _ := wm.Get(); id != "12" {
		t.Fatalf("watermark = %q", id)
	}
}

func TestTwitterWatermarkAdvancesOnFailure(t *testing.T) {
	src := &fakeMentionSource{
		batches: [][]twitter.Mention{{photoMention("50", "7", "x")}},
		postErr: errors.New("rate limited"),
	}
	wm := state.NewMemoryWatermark("40")
	critic := &fakeCritic{result: critique.Result{ErrorDetail: "Something went wrong: I couldn't reach the critique service.", Kind: critique.KindNetwork}}
	c := newTestTwitter(t, src, wm, critic)

	if _, err := c.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if id, _ := wm.Get(); id != "50" {
		t.Fatalf("watermark = %q, want 50", id)
	}
}

func TestTwitterWatermarkNeverDecreases(t *testing.T) {
	src := &fakeMentionSource{batches: [][]twitter.Mention{{photoMention("5", "7", "stale")}}}
	wm := state.NewMemoryWatermark("100")
	critic := &fakeCritic{result: critique.Result{Text: "ok", Succeeded: true}}
	c := newTestTwitter(t, src, wm, critic)

	if _, err := c.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if id, _ := wm.Get(); id != "100" {
		t.Fatalf("watermark moved backwards to %q", id)
	}
	if len(critic.calls()) != 0 {
		t.Fatal("a mention at or below the watermark must not be processed")
	}
}

func TestTwitterTruncatesReply(t *testing.T) {
	src := &fakeMentionSource{batches: [][]twitter.Mention{{photoMention("1", "7", "x")}}}
	critic := &fakeCritic{result: critique.Result{Text: strings.Repeat("ø", 400), Succeeded: true}}
	c := newTestTwitter(t, src, nil, critic)

	if _, err := c.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := utf8.RuneCountInString(src.replies()[0].text); n > twitter.MaxTweetLength {
		t.Fatalf("reply has %d runes", n)
	}
}

func TestTwitterFetchErrorKeepsWatermark(t *testing.T) {
	src := &fakeMentionSource{}
	wm := state.NewMemoryWatermark("7")
	c := newTestTwitter(t, src, wm, &fakeCritic{})

	if _, err := c.Tick(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if id, _ := wm.Get(); id != "7" {
		t.Fatalf("watermark = %q", id)
	}
}

func TestTwitterRunRejectsSecondLoop(t *testing.T) {
	src := &fakeMentionSource{batches: [][]twitter.Mention{{}}}
	c := newTestTwitter(t, src, nil, &fakeCritic{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !c.LoopRunning() {
		if time.Now().After(deadline) {
			t.Fatal("loop did not start")
		}
		time.Sleep(time.Millisecond)
	}

	if err := c.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run = %v, want ErrAlreadyRunning", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestTwitterStartStop(t *testing.T) {
	src := &fakeMentionSource{batches: [][]twitter.Mention{{}}}
	c := newTestTwitter(t, src, nil, &fakeCritic{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.LoopRunning() {
		t.Fatal("loop still running after Stop")
	}
}

func TestTwitterScheduleWait(t *testing.T) {
	src := &fakeMentionSource{}
	c, err := NewTwitterChannel(config.TwitterConfig{PollSchedule: "*/5 * * * *"}, src, nil, Deps{})
	if err != nil {
		t.Fatalf("NewTwitterChannel: %v", err)
	}
	now := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	wait := c.nextWait(now)
	if wait <= 0 || wait > 5*time.Minute {
		t.Fatalf("wait = %v", wait)
	}

	plain, _ := NewTwitterChannel(config.TwitterConfig{}, src, nil, Deps{})
	if got := plain.nextWait(now); got != 15*time.Second {
		t.Fatalf("default wait = %v", got)
	}

	if _, err := NewTwitterChannel(config.TwitterConfig{PollSchedule: "not a cron"}, src, nil, Deps{}); err == nil {
		t.Fatal("expected invalid schedule error")
	}
}
