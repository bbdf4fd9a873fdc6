package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// DefaultImageType is assumed when neither the platform nor the bytes say otherwise.
const DefaultImageType = "image/jpeg"

const imageFamily = "image/"

var imageExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// NormalizeContentType lowercases a MIME type and drops any parameters.
func NormalizeContentType(contentType string) string {
	ct := strings.TrimSpace(contentType)
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.ToLower(mt)
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// IsImageType reports whether a declared content type belongs to the image family.
func IsImageType(contentType string) bool {
	return strings.HasPrefix(NormalizeContentType(contentType), imageFamily)
}

// TypeFromFilename maps a known image extension to its MIME type, or "".
func TypeFromFilename(name string) string {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// DetectContentType sniffs the bytes. The result carries no parameters.
func DetectContentType(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return NormalizeContentType(mimetype.Detect(data).String())
}

// ResolveImageType picks the content type to send upstream: the declared type when
// given, a sniffed image type otherwise, falling back to DefaultImageType.
func ResolveImageType(declared string, data []byte) string {
	if ct := NormalizeContentType(declared); ct != "" {
		return ct
	}
	if sniffed := DetectContentType(data); strings.HasPrefix(sniffed, imageFamily) {
		return sniffed
	}
	return DefaultImageType
}

// DataURL wraps raw bytes as a base64 data URL.
func DataURL(contentType string, data []byte) string {
	ct := NormalizeContentType(contentType)
	if ct == "" {
		ct = DefaultImageType
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL splits a base64 data URL into its media type and encoded payload.
func ParseDataURL(dataURL string) (mediaType, encoded string, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", "", fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("data URL has no payload")
	}
	mediaType, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", "", fmt.Errorf("data URL is not base64 encoded")
	}
	if mediaType == "" {
		mediaType = DefaultImageType
	}
	return mediaType, payload, nil
}

// ToRGBJPEG decodes any supported image and re-encodes it as an opaque JPEG.
// Transparent regions are flattened onto white.
func ToRGBJPEG(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
