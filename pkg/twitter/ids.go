package twitter

import "strings"

// Tweet ids are decimal snowflakes. They are compared as numbers so that
// ids of different lengths order correctly without parsing.

func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	trimmed := strings.TrimLeft(id, "0")
	if trimmed == "" && id != "" {
		return "0"
	}
	return trimmed
}

// CompareIDs returns -1, 0 or 1. The empty id sorts before every real id.
func CompareIDs(a, b string) int {
	a, b = normalizeID(a), normalizeID(b)
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// MaxID returns the numerically larger id.
func MaxID(a, b string) string {
	if CompareIDs(a, b) >= 0 {
		return a
	}
	return b
}

// ExtractTweetID returns the last path segment of a status URL, or the input
// itself when it is already an id.
func ExtractTweetID(tweetURL string) string {
	s := strings.TrimSpace(tweetURL)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}
