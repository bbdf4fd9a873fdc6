package channels

import (
	"context"
	"testing"

	"github.com/artcritic/artcritic/pkg/bus"
	"github.com/artcritic/artcritic/pkg/critique"
)

func TestIsAllowed(t *testing.T) {
	open := NewBaseChannel("test", nil, Deps{})
	if !open.IsAllowed("anyone") {
		t.Fatal("empty allowlist should accept everyone")
	}

	c := NewBaseChannel("test", []string{"123", "@painter"}, Deps{})
	tests := []struct {
		sender string
		want   bool
	}{
		{"123", true},
		{"123|someone", true},
		{"456|Painter", true},
		{"456|stranger", false},
		{"456", false},
	}
	for _, tc := range tests {
		if got := c.IsAllowed(tc.sender); got != tc.want {
			t.Errorf("IsAllowed(%q) = %v, want %v", tc.sender, got, tc.want)
		}
	}
}

func TestHandleMessageWithoutImageSkipsCritic(t *testing.T) {
	critic := &fakeCritic{}
	c := NewBaseChannel("test", nil, Deps{Critic: critic, Downloader: &fakeDownloader{}})

	reply := c.HandleMessage(context.Background(), bus.InboundMessage{Content: "hello"})
	if reply != "Please attach an image and I'll critique it." {
		t.Fatalf("reply = %q", reply)
	}
	if len(critic.calls()) != 0 {
		t.Fatal("critic should not be called without an image")
	}
}

func TestHandleMessageBuildsRequest(t *testing.T) {
	critic := &fakeCritic{result: critique.Result{Text: "Bold. Empty. Honest.", Succeeded: true}}
	dl := &fakeDownloader{data: []byte{0x89, 'P', 'N', 'G'}, ct: "application/octet-stream"}
	c := NewBaseChannel("test", nil, Deps{Critic: critic, Downloader: dl, Mode: critique.DirectImageCritique})

	msg := bus.InboundMessage{
		Content: "<@100> thoughts   on this?",
		Media: []bus.MediaRef{
			{URL: "https://cdn.example/first.png", Filename: "first.png"},
			{URL: "https://cdn.example/second.png", ContentType: "image/png"},
		},
	}
	reply := c.HandleMessage(context.Background(), msg, "<@100>")
	if reply != "Bold. Empty. Honest." {
		t.Fatalf("reply = %q", reply)
	}

	calls := critic.calls()
	if len(calls) != 1 {
		t.Fatalf("critic calls = %d", len(calls))
	}
	req := calls[0]
	if req.UserText != "thoughts on this?" {
		t.Fatalf("user text = %q", req.UserText)
	}
	if req.Image.ContentType != "image/png" {
		t.Fatalf("content type = %q", req.Image.ContentType)
	}
	if req.Mode != critique.DirectImageCritique {
		t.Fatalf("mode = %q", req.Mode)
	}
	if len(dl.urls) != 1 || dl.urls[0] != "https://cdn.example/first.png" {
		t.Fatalf("downloads = %v", dl.urls)
	}
}

func TestHandleMessageErrorReplyOverride(t *testing.T) {
	failed := critique.Result{Succeeded: false, ErrorDetail: "Something went wrong: I couldn't make out what's in the image.", Kind: critique.KindCaption}
	msg := bus.InboundMessage{Media: []bus.MediaRef{{URL: "u", ContentType: "image/jpeg"}}}

	plain := NewBaseChannel("test", nil, Deps{Critic: &fakeCritic{result: failed}, Downloader: &fakeDownloader{data: []byte{1}}})
	if got := plain.HandleMessage(context.Background(), msg); got != failed.ErrorDetail {
		t.Fatalf("reply = %q", got)
	}

	custom := NewBaseChannel("test", nil, Deps{
		Critic:     &fakeCritic{result: failed},
		Downloader: &fakeDownloader{data: []byte{1}},
		Replies:    Replies{ErrorReply: "The muse has left the building."},
	})
	if got := custom.HandleMessage(context.Background(), msg); got != "The muse has left the building." {
		t.Fatalf("reply = %q", got)
	}
}
