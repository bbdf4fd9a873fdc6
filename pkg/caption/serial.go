package caption

import (
	"context"
	"sync"

	"github.com/artcritic/artcritic/pkg/critique"
)

// Serialized lets one caption run at a time against a shared model instance.
type Serialized struct {
	mu    sync.Mutex
	inner critique.Captioner
}

func NewSerialized(inner critique.Captioner) *Serialized {
	return &Serialized{inner: inner}
}

func (s *Serialized) Caption(ctx context.Context, image critique.ImagePayload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.inner.Caption(ctx, image)
}
