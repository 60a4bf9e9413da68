package scrape

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
	"go.uber.org/zap"
)

// DefaultBaseURL is the forum root.
const DefaultBaseURL = "https://geekhack.org"

var errMissingFetcher = errors.New("scrape: fetcher is required")

// ClientConfig wires a Client.
type ClientConfig struct {
	Fetcher *Fetcher
	BaseURL string
	Albums  *AlbumClient
	Logger  *zap.Logger
}

// Client fetches and extracts forum pages. It satisfies forum.CommentSource.
type Client struct {
	fetcher *Fetcher
	baseURL string
	albums  *AlbumClient
	logger  *zap.Logger
}

// ListingPage is one extracted listing page.
type ListingPage struct {
	Stubs      []forum.ThreadStub
	LastOffset int
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Fetcher == nil {
		return nil, errMissingFetcher
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{fetcher: cfg.Fetcher, baseURL: baseURL, albums: cfg.Albums, logger: logger}, nil
}

// BaseURL returns the forum root the client crawls.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Listing fetches the listing page of category at offset.
func (c *Client) Listing(ctx context.Context, category forum.Category, offset int) (ListingPage, error) {
	pageURL, err := BoardURL(c.baseURL, category, offset)
	if err != nil {
		return ListingPage{}, err
	}
	doc, err := c.fetcher.Document(ctx, pageURL)
	if err != nil {
		return ListingPage{}, err
	}
	stubs, err := ParseListing(doc, category, c.baseURL)
	if err != nil {
		return ListingPage{}, withURL(err, pageURL)
	}
	lastOffset, err := ParseLastListingOffset(doc)
	if err != nil {
		return ListingPage{}, withURL(err, pageURL)
	}
	return ListingPage{Stubs: stubs, LastOffset: lastOffset}, nil
}

// ThreadPage fetches a thread's first page and extracts its details. When no
// image survives the image policy, linked albums supply the images.
func (c *Client) ThreadPage(ctx context.Context, threadURL string) (forum.ThreadDetails, error) {
	doc, err := c.fetcher.Document(ctx, threadURL)
	if err != nil {
		return forum.ThreadDetails{}, err
	}
	page, err := ParseThreadPage(doc)
	if err != nil {
		return forum.ThreadDetails{}, withURL(err, threadURL)
	}

	details := page.Details
	if len(details.Images) > 0 || len(page.AlbumHashes) == 0 {
		return details, nil
	}
	if !c.albums.Enabled() {
		c.logger.Warn("album fallback skipped without client id",
			zap.String("url", threadURL),
			zap.Int("albums", len(page.AlbumHashes)))
		return details, nil
	}
	for _, hash := range page.AlbumHashes {
		links, err := c.albums.AlbumImages(ctx, hash)
		if err != nil {
			return forum.ThreadDetails{}, err
		}
		details.Images = append(details.Images, links...)
	}
	return details, nil
}

// PageComments returns the comments on the thread page at offset. The page at
// offset 0 also carries the thread's pagination, so its newest page offset is
// reported alongside.
func (c *Client) PageComments(ctx context.Context, topicID forum.TopicID, offset int) (forum.CommentPage, error) {
	pageURL := ThreadURL(c.baseURL, topicID, offset)
	doc, err := c.fetcher.Document(ctx, pageURL)
	if err != nil {
		return forum.CommentPage{}, err
	}
	comments, err := ParseComments(doc, topicID, offset, c.baseURL)
	if err != nil {
		return forum.CommentPage{}, withURL(err, pageURL)
	}
	page := forum.CommentPage{Comments: comments}
	if offset == 0 {
		lastOffset, err := ParseLastCommentOffset(doc)
		if err != nil {
			return forum.CommentPage{}, withURL(err, pageURL)
		}
		page.LastOffset = lastOffset
	}
	return page, nil
}

var _ forum.CommentSource = (*Client)(nil)
