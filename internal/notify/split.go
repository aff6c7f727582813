package notify

import (
	"strings"
	"unicode/utf8"
)

// Telegram message size limits, in characters.
const (
	MaxMessageLength = 4096
	MaxCaptionLength = 1024
)

// SplitMessage cuts text into chunks of at most limit characters,
// preferring paragraph breaks, then line breaks, then spaces.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut := cutPoint(text, limit)
		part := strings.TrimRight(text[:cut], " \n")
		if part != "" {
			parts = append(parts, part)
		}
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// cutPoint returns a byte offset no further than limit runes into s.
func cutPoint(s string, limit int) int {
	end := byteOffset(s, limit)
	window := s[:end]

	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i > 0 {
			return i + len(sep)
		}
	}
	return end
}

func byteOffset(s string, runes int) int {
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}
