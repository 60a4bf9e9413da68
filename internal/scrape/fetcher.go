package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/observability"
	"github.com/PuerkitoBio/goquery"
	"github.com/corpix/uarand"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultInterval     = time.Second
	maxResponseBytes    = 16 << 20
	headerUserAgent     = "User-Agent"
	headerAuthorization = "Authorization"
)

// FetcherConfig describes how pages are requested from the source.
type FetcherConfig struct {
	HTTPClient *http.Client
	UserAgent  string
	// Interval is the minimum spacing between requests. Zero uses one second,
	// a negative value disables the limiter.
	Interval time.Duration
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Fetcher performs single rate-limited GET requests without retries.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    *zap.Logger
}

// NewFetcher builds a Fetcher from cfg.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	var limiter *rate.Limiter
	if interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Fetcher{
		client:    client,
		limiter:   limiter,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Fetch returns the body of url. Transport failures and non-2xx statuses are
// reported as *NetworkError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f.fetch(ctx, url, nil)
}

// Document fetches url and parses it as HTML.
func (f *Fetcher) Document(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: url, Reason: "invalid html", Err: err}
	}
	return doc, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{URL: url, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	userAgent := f.userAgent
	if userAgent == "" {
		userAgent = uarand.GetRandom()
	}
	req.Header.Set(headerUserAgent, userAgent)
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		observability.PageFetches.WithLabelValues(observability.ResultError).Inc()
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		observability.PageFetches.WithLabelValues(observability.ResultError).Inc()
		return nil, &NetworkError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		observability.PageFetches.WithLabelValues(observability.ResultError).Inc()
		return nil, &NetworkError{URL: url, Err: err}
	}
	observability.PageFetches.WithLabelValues(observability.ResultSuccess).Inc()
	f.logger.Debug("page fetched", zap.String("url", url), zap.Int("bytes", len(body)))
	return body, nil
}
