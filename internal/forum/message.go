package forum

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SegmentKind tags a message segment variant.
type SegmentKind string

const (
	// SegmentKindText carries literal markup or text.
	SegmentKindText SegmentKind = "text"
	// SegmentKindQuote carries a quotation with its own message.
	SegmentKindQuote SegmentKind = "quote"
)

// ErrInvalidMessage indicates stored message JSON that does not decode into segments.
var ErrInvalidMessage = errors.New("forum: invalid message")

// MessageSegment is either a text run or a quotation.
type MessageSegment struct {
	Kind  SegmentKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Quote *Quote      `json:"quote,omitempty"`
}

// Quote is a quoted message with optional attribution.
type Quote struct {
	Commenter *string          `json:"commenter"`
	CreatedAt *time.Time       `json:"created_at"`
	Message   []MessageSegment `json:"message"`
}

// TextSegment builds a text segment.
func TextSegment(text string) MessageSegment {
	return MessageSegment{Kind: SegmentKindText, Text: text}
}

// QuoteSegment builds a quote segment.
func QuoteSegment(quote Quote) MessageSegment {
	return MessageSegment{Kind: SegmentKindQuote, Quote: &quote}
}

// HasQuote reports whether any top-level segment is a quotation.
func HasQuote(segments []MessageSegment) bool {
	for _, segment := range segments {
		if segment.Kind == SegmentKindQuote {
			return true
		}
	}
	return false
}

// EncodeMessage serializes segments for storage.
func EncodeMessage(segments []MessageSegment) (string, error) {
	if segments == nil {
		segments = []MessageSegment{}
	}
	encoded, err := json.Marshal(segments)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeMessage parses stored segments and validates their tags.
func DecodeMessage(payload string) ([]MessageSegment, error) {
	if payload == "" {
		return []MessageSegment{}, nil
	}
	var segments []MessageSegment
	if err := json.Unmarshal([]byte(payload), &segments); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := validateSegments(segments); err != nil {
		return nil, err
	}
	return segments, nil
}

func validateSegments(segments []MessageSegment) error {
	for _, segment := range segments {
		switch segment.Kind {
		case SegmentKindText:
		case SegmentKindQuote:
			if segment.Quote == nil {
				return fmt.Errorf("%w: quote segment without quote", ErrInvalidMessage)
			}
			if err := validateSegments(segment.Quote.Message); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown segment kind %q", ErrInvalidMessage, segment.Kind)
		}
	}
	return nil
}
