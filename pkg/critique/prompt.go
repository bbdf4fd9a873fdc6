package critique

import (
	"fmt"
	"regexp"
	"strings"
)

const SystemPrompt = "You are a brutally honest art critic. Be bold, philosophical, and don't hold back. Be concise. A few sentences at most."

const directPromptBare = "Critique this artwork. Be brutally honest and philosophical."

var (
	discordMention = regexp.MustCompile(`<@!?\d+>`)
	leadingHandles = regexp.MustCompile(`^(?:\s*@\w+)+`)
	spaceRun       = regexp.MustCompile(`\s+`)
)

func BuildCaptionPrompt(description string) string {
	return fmt.Sprintf("Critique this artwork based on the following description: '%s'", description)
}

func BuildDirectPrompt(userText string) string {
	text := StripMentions(userText)
	if text == "" {
		return directPromptBare
	}
	return fmt.Sprintf("User says: '%s'. Please critique this artwork accordingly. Be brutally honest and philosophical.", text)
}

// StripMentions removes Discord mention tokens anywhere in the text, the run of
// @handles a Twitter reply starts with, and any extra tokens the caller names.
func StripMentions(text string, tokens ...string) string {
	for _, tok := range tokens {
		if tok != "" {
			text = strings.ReplaceAll(text, tok, " ")
		}
	}
	text = discordMention.ReplaceAllString(text, " ")
	text = leadingHandles.ReplaceAllString(text, " ")
	return strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
}
