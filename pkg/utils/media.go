package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/artcritic/artcritic/pkg/media"
)

// LoadImageFile reads a local image and reports its content type, taken from
// the extension and falling back to sniffing the bytes.
func LoadImageFile(path string) (data []byte, contentType string, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading image %s: %w", path, err)
	}
	contentType = media.TypeFromFilename(path)
	if contentType == "" {
		contentType = media.DetectContentType(data)
	}
	if !media.IsImageType(contentType) {
		return nil, "", fmt.Errorf("unsupported image type %q for %s", contentType, SanitizeFilename(path))
	}
	return data, contentType, nil
}

// SanitizeFilename removes potentially dangerous characters from a filename.
func SanitizeFilename(filename string) string {
	base := filepath.Base(filename)
	base = strings.ReplaceAll(base, "..", "")
	base = strings.ReplaceAll(base, "/", "_")
	base = strings.ReplaceAll(base, "\\", "_")
	return base
}
