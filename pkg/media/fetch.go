package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/artcritic/artcritic/pkg/logger"
)

// MaxImageBytes caps a single download; multimodal APIs reject larger inputs.
const MaxImageBytes int64 = 20 * 1024 * 1024

// FetchOptions holds optional parameters for downloading media.
type FetchOptions struct {
	Timeout      time.Duration
	MaxBytes     int64
	ExtraHeaders map[string]string
	LoggerPrefix string
	HTTPClient   *http.Client
}

// Fetched is a downloaded media body with the content type reported by the server.
type Fetched struct {
	Data        []byte
	ContentType string
}

// Fetcher downloads attachment bytes into memory.
type Fetcher struct {
	client   *resty.Client
	maxBytes int64
	prefix   string
}

func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = MaxImageBytes
	}
	if opts.LoggerPrefix == "" {
		opts.LoggerPrefix = "media"
	}

	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetTimeout(opts.Timeout)
	client.SetHeaders(opts.ExtraHeaders)

	return &Fetcher{client: client, maxBytes: opts.MaxBytes, prefix: opts.LoggerPrefix}
}

// Fetch downloads url and returns its body. Non-200 replies are errors. The
// body is streamed and reading stops once it passes the size cap.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Fetched, error) {
	resp, err := f.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(url)
	if err != nil {
		logger.ErrorCF(f.prefix, "Failed to download media", map[string]interface{}{
			"error": err.Error(),
			"url":   url,
		})
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() != http.StatusOK {
		logger.ErrorCF(f.prefix, "Media download returned non-200 status", map[string]interface{}{
			"status": resp.StatusCode(),
			"url":    url,
		})
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode())
	}
	if resp.RawResponse != nil && resp.RawResponse.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("download %s: %d bytes exceeds limit of %d", url, resp.RawResponse.ContentLength, f.maxBytes)
	}

	body, err := io.ReadAll(io.LimitReader(raw, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: read body: %w", url, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("download %s: body exceeds limit of %d bytes", url, f.maxBytes)
	}
	logger.DebugCF(f.prefix, "Media downloaded", map[string]interface{}{
		"url":        url,
		"size_bytes": len(body),
	})

	return &Fetched{
		Data:        body,
		ContentType: NormalizeContentType(resp.Header().Get("Content-Type")),
	}, nil
}
