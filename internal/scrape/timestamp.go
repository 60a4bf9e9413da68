package scrape

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// TimestampLayout is the caption format the source renders, e.g.
// "Wed, 31 March 2021, 12:34:56". Times are interpreted as UTC.
const TimestampLayout = "Mon, 2 January 2006, 15:04:05"

const timestampTokens = 5

// ParseTimestamp parses a rendered caption timestamp.
func ParseTimestamp(raw string) (time.Time, error) {
	return parseTimestampTokens(strings.Fields(raw))
}

func parseTimestampTokens(tokens []string) (time.Time, error) {
	if len(tokens) != timestampTokens {
		return time.Time{}, newParseError("timestamp", fmt.Errorf("expected %d tokens, got %q", timestampTokens, strings.Join(tokens, " ")))
	}
	parsed, err := time.ParseInLocation(TimestampLayout, strings.Join(tokens, " "), time.UTC)
	if err != nil {
		return time.Time{}, newParseError("timestamp", err)
	}
	return parsed, nil
}

// captionTokens returns tokens[from:to] of the whitespace-split caption, or
// false when the caption is too short.
func captionTokens(caption string, from, to int) ([]string, bool) {
	tokens := strings.Fields(caption)
	if len(tokens) < to {
		return nil, false
	}
	return tokens[from:to], true
}

// cleanName trims a rendered user name and removes control characters.
func cleanName(raw string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw))
}
