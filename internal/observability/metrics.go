package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PageFetches counts source page fetches by result.
	PageFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geekmirror_page_fetches_total",
		Help: "Total number of forum page fetches by result",
	}, []string{"result"})

	// ThreadOutcomes counts reconciliation outcomes by category and outcome.
	ThreadOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geekmirror_thread_outcomes_total",
		Help: "Total number of reconciled threads by category and outcome",
	}, []string{"category", "outcome"})

	// CommentsInserted counts comments stored by comment sync.
	CommentsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geekmirror_comments_inserted_total",
		Help: "Total number of comments inserted",
	})

	// CrawlRuns counts finished walker invocations by category and stop reason.
	CrawlRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geekmirror_crawl_runs_total",
		Help: "Total number of crawl runs by category and stop reason",
	}, []string{"category", "stop_reason"})

	// CacheRequests counts cache lookups by result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geekmirror_cache_requests_total",
		Help: "Total number of read cache lookups by result",
	}, []string{"result"})
)

const (
	// ResultSuccess labels a successful operation.
	ResultSuccess = "success"
	// ResultError labels a failed operation.
	ResultError = "error"
	// ResultHit labels a cache hit.
	ResultHit = "hit"
	// ResultMiss labels a cache miss.
	ResultMiss = "miss"
)
