package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"overflowing", 5, "over…"},
		{"héllo wörld", 6, "héllo…"},
		{"abc", 0, ""},
	}
	for _, tc := range tests {
		got := Truncate(tc.in, tc.limit)
		if got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
		if utf8.RuneCountInString(got) > tc.limit {
			t.Errorf("Truncate(%q, %d) exceeds limit", tc.in, tc.limit)
		}
	}
}

func TestLoadImageFile(t *testing.T) {
	dir := t.TempDir()
	// A PNG signature is enough for sniffing.
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	noExt := filepath.Join(dir, "upload")
	if err := os.WriteFile(noExt, png, 0644); err != nil {
		t.Fatal(err)
	}
	data, ct, err := LoadImageFile(noExt)
	if err != nil {
		t.Fatalf("LoadImageFile: %v", err)
	}
	if ct != "image/png" || len(data) != len(png) {
		t.Fatalf("got %q, %d bytes", ct, len(data))
	}

	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	_, _, err = LoadImageFile(txt)
	if err == nil {
		t.Fatal("expected error for a text file")
	}
	if !strings.Contains(err.Error(), "notes.txt") || strings.Contains(err.Error(), dir) {
		t.Fatalf("error should name only the file: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := SanitizeFilename("../../etc/passwd"); got != "passwd" {
		t.Fatalf("SanitizeFilename = %q", got)
	}
	if got := SanitizeFilename(`C:\\art\\.\\..\\piece.png`); strings.ContainsAny(got, `\\/`) || strings.Contains(got, "..") {
		t.Fatalf("SanitizeFilename = %q", got)
	}
}
