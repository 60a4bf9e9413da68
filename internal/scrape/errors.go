package scrape

import (
	"errors"
	"fmt"
)

// ErrMissingClientID indicates that the album API was called without credentials.
var ErrMissingClientID = errors.New("scrape: imgur client id is required")

// NetworkError reports a failed fetch: transport failure, timeout or non-2xx status.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ParseError reports that a page lacked structure the extractor depends on.
type ParseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	message := "parse"
	if e.URL != "" {
		message += " " + e.URL
	}
	message += ": " + e.Reason
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(reason string, cause error) *ParseError {
	return &ParseError{Reason: reason, Err: cause}
}

// withURL attaches the page URL to parse errors raised by pure extractors.
func withURL(err error, url string) error {
	var parseErr *ParseError
	if errors.As(err, &parseErr) && parseErr.URL == "" {
		parseErr.URL = url
	}
	return err
}
