package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/cache"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/crawler"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/scrape"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	categoryAll         = "ALL"
	defaultCrawlListing = 20
)

var (
	errMissingForumService = errors.New("forum service dependency required")
	errMissingSyncer       = errors.New("syncer dependency required")
)

// Syncer runs listing and comment synchronization.
type Syncer interface {
	SyncCategory(ctx context.Context, category forum.Category, opts crawler.Options) (crawler.Summary, error)
	SyncAll(ctx context.Context, opts crawler.Options) ([]crawler.Summary, error)
	SyncComments(ctx context.Context, topicID forum.TopicID) (forum.CommentSyncResult, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	ForumService   *forum.Service
	Syncer         Syncer
	Cache          *cache.Cache
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.ForumService == nil {
		return nil, errMissingForumService
	}
	if deps.Syncer == nil {
		return nil, errMissingSyncer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		forumService: deps.ForumService,
		syncer:       deps.Syncer,
		cache:        deps.Cache,
		logger:       logger,
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/", handler.handleHealth)
	api.GET("/update/:category", handler.handleUpdate)
	api.GET("/crawls", handler.handleListCrawls)
	api.GET("/posts/:key", handler.handleGetThread)
	api.GET("/posts/:key/:sort", handler.handleListThreads)
	api.POST("/posts/search", handler.handleSearchThreads)
	api.GET("/comments/commenter/:name", handler.handleCommentsByCommenter)
	api.GET("/comments/:topic_id/update", handler.handleUpdateComments)
	api.GET("/comments/:topic_id/:sort", handler.handleListComments)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	forumService *forum.Service
	syncer       Syncer
	cache        *cache.Cache
	logger       *zap.Logger
}

type threadPayload struct {
	TopicID     int64     `json:"topic_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Creator     string    `json:"creator"`
	Created     time.Time `json:"created"`
	LastUpdated time.Time `json:"last_updated"`
	Category    string    `json:"category"`
	Images      []string  `json:"images"`
	BodyHTML    string    `json:"body_html,omitempty"`
}

type threadListPayload struct {
	Posts    []threadPayload `json:"posts"`
	PageInfo forum.PageInfo  `json:"page_info"`
}

type commentPayload struct {
	TopicID        int64                  `json:"topic_id"`
	Number         int64                  `json:"number"`
	Link           string                 `json:"link"`
	Commenter      string                 `json:"commenter"`
	Created        time.Time              `json:"created"`
	IsStarter      bool                   `json:"is_starter"`
	IsReplyToQuote bool                   `json:"is_reply_to_quote"`
	Message        []forum.MessageSegment `json:"message"`
	Attachment     *string                `json:"attachment"`
}

type searchRequestPayload struct {
	Query string `json:"query"`
}

type commentSyncPayload struct {
	TopicID      int64  `json:"topic_id"`
	Watermark    *int64 `json:"watermark"`
	PagesVisited int    `json:"pages_visited"`
	Inserted     int    `json:"inserted"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	limit, err := optionalInt(c.Query("limit"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}
	options := crawler.Options{Limit: limit, WithComments: c.Query("comments") == "true"}

	var summaries []crawler.Summary
	if strings.EqualFold(c.Param("category"), categoryAll) {
		summaries, err = h.syncer.SyncAll(c.Request.Context(), options)
	} else {
		category, parseErr := forum.ParseCategory(c.Param("category"))
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_category"})
			return
		}
		var summary crawler.Summary
		summary, err = h.syncer.SyncCategory(c.Request.Context(), category, options)
		summaries = []crawler.Summary{summary}
	}
	h.flushCache(c.Request.Context())
	if err != nil {
		h.respondWithError(c, "sync failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": summaries})
}

func (h *httpHandler) handleUpdateComments(c *gin.Context) {
	topicID, ok := topicIDParam(c, "topic_id")
	if !ok {
		return
	}
	result, err := h.syncer.SyncComments(c.Request.Context(), topicID)
	h.flushCache(c.Request.Context())
	if err != nil {
		h.respondWithError(c, "comment sync failed", err)
		return
	}
	c.JSON(http.StatusOK, commentSyncPayload{
		TopicID:      result.TopicID.Int64(),
		Watermark:    result.Watermark,
		PagesVisited: result.PagesVisited,
		Inserted:     result.Inserted,
	})
}

func (h *httpHandler) handleGetThread(c *gin.Context) {
	topicID, ok := topicIDParam(c, "key")
	if !ok {
		return
	}
	var payload threadPayload
	err := h.cache.Aside(c.Request.Context(), h.cache.Key("thread", strconv.FormatInt(topicID.Int64(), 10)), &payload, func() error {
		thread, err := h.forumService.GetThread(c.Request.Context(), topicID)
		if err != nil {
			return err
		}
		payload = newThreadPayload(thread, true)
		return nil
	})
	if err != nil {
		h.respondWithError(c, "thread lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleListThreads(c *gin.Context) {
	query, ok := threadQueryParams(c)
	if !ok {
		return
	}
	categoryKey := categoryAll
	if query.Category != nil {
		categoryKey = query.Category.String()
	}
	key := h.cache.Key("threads", categoryKey, string(query.Sort), strconv.Itoa(query.Page), strconv.Itoa(query.Limit))

	var payload threadListPayload
	err := h.cache.Aside(c.Request.Context(), key, &payload, func() error {
		page, err := h.forumService.ListThreads(c.Request.Context(), query)
		if err != nil {
			return err
		}
		payload = newThreadListPayload(page)
		return nil
	})
	if err != nil {
		h.respondWithError(c, "thread listing failed", err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleSearchThreads(c *gin.Context) {
	var request searchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	page, limit, ok := pagingParams(c)
	if !ok {
		return
	}
	result, err := h.forumService.SearchThreads(c.Request.Context(), request.Query, page, limit)
	if err != nil {
		h.respondWithError(c, "thread search failed", err)
		return
	}
	c.JSON(http.StatusOK, newThreadListPayload(result))
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	topicID, ok := topicIDParam(c, "topic_id")
	if !ok {
		return
	}
	sortType, err := forum.ParseSortType(c.Param("sort"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_sort"})
		return
	}
	key := h.cache.Key("comments", strconv.FormatInt(topicID.Int64(), 10), string(sortType))

	var payload []commentPayload
	err = h.cache.Aside(c.Request.Context(), key, &payload, func() error {
		comments, err := h.forumService.ListComments(c.Request.Context(), topicID, sortType)
		if err != nil {
			return err
		}
		payload = newCommentPayloads(comments, h.logger)
		return nil
	})
	if err != nil {
		h.respondWithError(c, "comment listing failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": payload})
}

func (h *httpHandler) handleCommentsByCommenter(c *gin.Context) {
	comments, err := h.forumService.CommentsByCommenter(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondWithError(c, "commenter lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": newCommentPayloads(comments, h.logger)})
}

func (h *httpHandler) handleListCrawls(c *gin.Context) {
	limit, err := optionalInt(c.Query("limit"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}
	if limit == 0 {
		limit = defaultCrawlListing
	}
	runs, err := h.forumService.ListCrawlRuns(c.Request.Context(), limit)
	if err != nil {
		h.respondWithError(c, "crawl listing failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *httpHandler) flushCache(ctx context.Context) {
	if err := h.cache.Flush(ctx); err != nil {
		h.logger.Warn("cache flush failed", zap.Error(err))
	}
}

// respondWithError maps domain, scrape and service errors onto status codes.
func (h *httpHandler) respondWithError(c *gin.Context, message string, err error) {
	status, reason := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	} else {
		h.logger.Debug(message, zap.Error(err))
	}
	body := gin.H{"error": reason}
	var serviceErr *forum.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	c.JSON(status, body)
}

func classifyError(err error) (int, string) {
	var networkErr *scrape.NetworkError
	var parseErr *scrape.ParseError
	switch {
	case errors.Is(err, forum.ErrThreadNotFound):
		return http.StatusNotFound, "thread_not_found"
	case errors.Is(err, forum.ErrInvalidSort):
		return http.StatusBadRequest, "invalid_sort"
	case errors.Is(err, forum.ErrInvalidPage):
		return http.StatusBadRequest, "invalid_page"
	case errors.Is(err, forum.ErrEmptyQuery):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, forum.ErrInvalidCategory):
		return http.StatusBadRequest, "invalid_category"
	case errors.Is(err, forum.ErrInvalidTopicID):
		return http.StatusBadRequest, "invalid_topic_id"
	case errors.As(err, &networkErr):
		return http.StatusBadGateway, "source_unavailable"
	case errors.As(err, &parseErr):
		return http.StatusBadGateway, "source_unparsable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func topicIDParam(c *gin.Context, name string) (forum.TopicID, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err == nil {
		topicID, idErr := forum.NewTopicID(value)
		if idErr == nil {
			return topicID, true
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_topic_id"})
	return 0, false
}

func threadQueryParams(c *gin.Context) (forum.ThreadQuery, bool) {
	query := forum.ThreadQuery{}
	if !strings.EqualFold(c.Param("key"), categoryAll) {
		category, err := forum.ParseCategory(c.Param("key"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_category"})
			return query, false
		}
		query.Category = &category
	}
	sortType, err := forum.ParseSortType(c.Param("sort"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_sort"})
		return query, false
	}
	query.Sort = sortType
	page, limit, ok := pagingParams(c)
	if !ok {
		return query, false
	}
	query.Page = page
	query.Limit = limit
	return query, true
}

func pagingParams(c *gin.Context) (int, int, bool) {
	page, pageErr := optionalInt(c.Query("page"))
	limit, limitErr := optionalInt(c.Query("limit"))
	if pageErr != nil || limitErr != nil || page < 0 || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
		return 0, 0, false
	}
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = forum.DefaultPageLimit
	}
	return page, limit, true
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func newThreadPayload(thread forum.Thread, withBody bool) threadPayload {
	images := make([]string, 0, len(thread.Images))
	for _, image := range thread.Images {
		images = append(images, image.URL)
	}
	payload := threadPayload{
		TopicID:     thread.TopicID,
		Title:       thread.Title,
		URL:         thread.URL,
		Creator:     thread.Creator,
		Created:     thread.CreatedAt.UTC(),
		LastUpdated: thread.LastUpdatedAt.UTC(),
		Category:    thread.Category.String(),
		Images:      images,
	}
	if withBody {
		payload.BodyHTML = thread.BodyHTML
	}
	return payload
}

func newThreadListPayload(page forum.ThreadPage) threadListPayload {
	posts := make([]threadPayload, 0, len(page.Threads))
	for _, thread := range page.Threads {
		posts = append(posts, newThreadPayload(thread, false))
	}
	return threadListPayload{Posts: posts, PageInfo: page.PageInfo}
}

func newCommentPayloads(comments []forum.Comment, logger *zap.Logger) []commentPayload {
	payloads := make([]commentPayload, 0, len(comments))
	for _, comment := range comments {
		message, err := comment.Message()
		if err != nil {
			logger.Warn("stored comment message undecodable",
				zap.Int64("topic_id", comment.TopicID),
				zap.Int64("number", comment.Number),
				zap.Error(err))
			message = nil
		}
		payloads = append(payloads, commentPayload{
			TopicID:        comment.TopicID,
			Number:         comment.Number,
			Link:           comment.Link,
			Commenter:      comment.Commenter,
			Created:        comment.CreatedAt.UTC(),
			IsStarter:      comment.IsStarter,
			IsReplyToQuote: comment.IsReplyToQuote,
			Message:        message,
			Attachment:     comment.AttachmentHTML,
		})
	}
	return payloads
}
