// Package bus holds the platform-neutral shape of events flowing between the
// channel adapters and the critic.
package bus

import "github.com/artcritic/artcritic/pkg/media"

// MediaRef points at an attachment the adapter has not downloaded yet.
type MediaRef struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// IsImage checks the declared type first and falls back to the file extension.
func (m MediaRef) IsImage() bool {
	if m.ContentType != "" {
		return media.IsImageType(m.ContentType)
	}
	return media.TypeFromFilename(m.Filename) != "" || media.TypeFromFilename(m.URL) != ""
}

// ImageType is the declared or extension-derived content type.
func (m MediaRef) ImageType() string {
	if m.ContentType != "" {
		return media.NormalizeContentType(m.ContentType)
	}
	if t := media.TypeFromFilename(m.Filename); t != "" {
		return t
	}
	return media.TypeFromFilename(m.URL)
}

type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	MessageID string            `json:"message_id"`
	Content   string            `json:"content"`
	Media     []MediaRef        `json:"media,omitempty"`
	Mentioned bool              `json:"mentioned,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// FirstImage returns the first image attachment. Later ones are ignored.
func (m InboundMessage) FirstImage() (MediaRef, bool) {
	for _, ref := range m.Media {
		if ref.IsImage() {
			return ref, true
		}
	}
	return MediaRef{}, false
}

type OutboundMessage struct {
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id"`
	ReplyToID string `json:"reply_to_id"`
	Content   string `json:"content"`
}
