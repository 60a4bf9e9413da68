package crawler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/observability"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/scrape"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stop reasons recorded on crawl runs.
const (
	StopUnchanged = "unchanged"
	StopLimit     = "limit"
	StopLastPage  = "last_page"
	StopEmptyPage = "empty_page"
	StopError     = "error"
)

var (
	errMissingSource = errors.New("crawler: thread source is required")
	errMissingStore  = errors.New("crawler: store is required")
)

// ThreadSource fetches and extracts listing and thread pages.
type ThreadSource interface {
	Listing(ctx context.Context, category forum.Category, offset int) (scrape.ListingPage, error)
	ThreadPage(ctx context.Context, threadURL string) (forum.ThreadDetails, error)
}

// Store reconciles extracted data and keeps the crawl audit.
type Store interface {
	ProcessThread(ctx context.Context, extracted forum.ExtractedThread) (forum.ThreadOutcome, error)
	ProcessComments(ctx context.Context, topicID forum.TopicID) (forum.CommentSyncResult, error)
	RecordCrawlRun(ctx context.Context, run forum.CrawlRun) error
}

// Options bound one category walk.
type Options struct {
	// Limit caps the number of processed threads; zero means no cap.
	Limit int
	// WithComments syncs comments of every inserted or updated thread.
	WithComments bool
}

// Summary reports what one category walk did.
type Summary struct {
	RunID            string         `json:"run_id"`
	Category         forum.Category `json:"category"`
	Pages            int            `json:"pages"`
	Processed        int            `json:"processed"`
	Inserted         int            `json:"inserted"`
	Updated          int            `json:"updated"`
	Unchanged        int            `json:"unchanged"`
	Stale            int            `json:"stale"`
	CommentsInserted int            `json:"comments_inserted"`
	StopReason       string         `json:"stop_reason"`
}

// WalkerConfig wires a Walker.
type WalkerConfig struct {
	Source   ThreadSource
	Store    Store
	Logger   *zap.Logger
	Clock    func() time.Time
	NewRunID func() (string, error)
}

// Walker drives sequential listing walks. At most one walk or comment sync
// runs at a time per Walker.
type Walker struct {
	source   ThreadSource
	store    Store
	logger   *zap.Logger
	clock    func() time.Time
	newRunID func() (string, error)
	mu       sync.Mutex
}

// NewWalker validates cfg and returns a Walker.
func NewWalker(cfg WalkerConfig) (*Walker, error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newRunID := cfg.NewRunID
	if newRunID == nil {
		newRunID = newUUIDv7
	}
	return &Walker{
		source:   cfg.Source,
		store:    cfg.Store,
		logger:   logger,
		clock:    clock,
		newRunID: newRunID,
	}, nil
}

func newUUIDv7() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// SyncAll walks every category in order and stops at the first failure.
func (w *Walker) SyncAll(ctx context.Context, opts Options) ([]Summary, error) {
	summaries := make([]Summary, 0, len(forum.Categories()))
	for _, category := range forum.Categories() {
		summary, err := w.SyncCategory(ctx, category, opts)
		summaries = append(summaries, summary)
		if err != nil {
			return summaries, err
		}
	}
	return summaries, nil
}

// SyncCategory walks the category's listing newest-activity first until a
// thread reconciles as unchanged, the limit is reached or the listing ends.
// Threads committed before a failure stay committed.
func (w *Walker) SyncCategory(ctx context.Context, category forum.Category, opts Options) (Summary, error) {
	if _, err := category.BoardID(); err != nil {
		return Summary{Category: category}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startedAt := w.clock()
	runID, err := w.newRunID()
	if err != nil {
		return Summary{Category: category}, err
	}
	summary := Summary{RunID: runID, Category: category}
	logger := w.logger.With(zap.String("run_id", runID), zap.String("category", category.String()))
	logger.Info("crawl started", zap.Int("limit", opts.Limit), zap.Bool("with_comments", opts.WithComments))

	walkErr := w.walk(ctx, category, opts, &summary)
	if walkErr != nil {
		summary.StopReason = StopError
		logger.Error("crawl failed", zap.Error(walkErr), zap.Int("pages", summary.Pages))
	} else {
		logger.Info("crawl finished",
			zap.String("stop_reason", summary.StopReason),
			zap.Int("pages", summary.Pages),
			zap.Int("inserted", summary.Inserted),
			zap.Int("updated", summary.Updated))
	}
	observability.CrawlRuns.WithLabelValues(category.String(), summary.StopReason).Inc()

	run := forum.CrawlRun{
		RunID:            runID,
		Category:         category.String(),
		StartedAt:        startedAt,
		FinishedAt:       w.clock(),
		Pages:            summary.Pages,
		Inserted:         summary.Inserted,
		Updated:          summary.Updated,
		Unchanged:        summary.Unchanged,
		Stale:            summary.Stale,
		CommentsInserted: summary.CommentsInserted,
		StopReason:       summary.StopReason,
	}
	if walkErr != nil {
		run.Error = walkErr.Error()
	}
	if err := w.store.RecordCrawlRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("crawl run not recorded", zap.Error(err))
	}
	return summary, walkErr
}

func (w *Walker) walk(ctx context.Context, category forum.Category, opts Options, summary *Summary) error {
	for offset := 0; ; offset += forum.PageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := w.source.Listing(ctx, category, offset)
		if err != nil {
			return err
		}
		summary.Pages++
		if len(page.Stubs) == 0 {
			summary.StopReason = StopEmptyPage
			return nil
		}

		for _, stub := range page.Stubs {
			outcome, err := w.syncThread(ctx, stub, opts, summary)
			if err != nil {
				return err
			}
			if outcome == forum.ThreadOutcomeUnchanged {
				summary.StopReason = StopUnchanged
				return nil
			}
			if opts.Limit > 0 && summary.Processed >= opts.Limit {
				summary.StopReason = StopLimit
				return nil
			}
		}

		if offset >= page.LastOffset {
			summary.StopReason = StopLastPage
			return nil
		}
	}
}

func (w *Walker) syncThread(ctx context.Context, stub forum.ThreadStub, opts Options, summary *Summary) (forum.ThreadOutcome, error) {
	details, err := w.source.ThreadPage(ctx, stub.URL)
	if err != nil {
		return "", err
	}
	outcome, err := w.store.ProcessThread(ctx, forum.MergeThread(stub, details))
	if err != nil {
		return "", err
	}
	summary.Processed++
	observability.ThreadOutcomes.WithLabelValues(stub.Category.String(), string(outcome)).Inc()

	switch outcome {
	case forum.ThreadOutcomeInserted:
		summary.Inserted++
	case forum.ThreadOutcomeUpdated:
		summary.Updated++
	case forum.ThreadOutcomeUnchanged:
		summary.Unchanged++
	case forum.ThreadOutcomeStale:
		summary.Stale++
	}

	if opts.WithComments && (outcome == forum.ThreadOutcomeInserted || outcome == forum.ThreadOutcomeUpdated) {
		result, err := w.store.ProcessComments(ctx, stub.TopicID)
		if err != nil {
			return "", err
		}
		summary.CommentsInserted += result.Inserted
		observability.CommentsInserted.Add(float64(result.Inserted))
	}
	return outcome, nil
}

// SyncComments runs comment sync for one stored thread.
func (w *Walker) SyncComments(ctx context.Context, topicID forum.TopicID) (forum.CommentSyncResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	result, err := w.store.ProcessComments(ctx, topicID)
	if err != nil {
		return result, err
	}
	observability.CommentsInserted.Add(float64(result.Inserted))
	w.logger.Info("comments synced",
		zap.Int64("topic_id", topicID.Int64()),
		zap.Int("pages", result.PagesVisited),
		zap.Int("inserted", result.Inserted))
	return result, nil
}
