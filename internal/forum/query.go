package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opGetThread           = "forum.get_thread"
	opListThreads         = "forum.list_threads"
	opSearchThreads       = "forum.search_threads"
	opListComments        = "forum.list_comments"
	opCommentsByCommenter = "forum.comments_by_commenter"

	reasonInvalidSort      = "invalid_sort"
	reasonInvalidPage      = "invalid_page"
	reasonMissingQuery     = "missing_query"
	reasonMissingCommenter = "missing_commenter"

	// DefaultPageLimit is the page size used when a query does not set one.
	DefaultPageLimit = 25
	maxPageLimit     = 100
	pageRangeBefore  = 2
	pageRangeAfter   = 4
)

var (
	// ErrInvalidSort indicates a sort type other than latest or newest.
	ErrInvalidSort = errors.New("forum: invalid sort type")
	// ErrInvalidPage indicates a non-positive page or limit.
	ErrInvalidPage = errors.New("forum: invalid page")
	// ErrEmptyQuery indicates a blank search or commenter filter.
	ErrEmptyQuery = errors.New("forum: empty query")
)

// SortType selects the ordering of list queries.
type SortType string

const (
	// SortLatest orders threads by last activity and comments by creation, newest first.
	SortLatest SortType = "latest"
	// SortNewest orders threads by creation newest first and comments oldest first.
	SortNewest SortType = "newest"
)

// ParseSortType validates raw input.
func ParseSortType(rawInput string) (SortType, error) {
	switch SortType(strings.ToLower(strings.TrimSpace(rawInput))) {
	case SortLatest:
		return SortLatest, nil
	case SortNewest:
		return SortNewest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSort, rawInput)
	}
}

// ThreadQuery filters and pages ListThreads. A nil Category lists every category.
type ThreadQuery struct {
	Category *Category
	Sort     SortType
	Page     int
	Limit    int
}

// PageInfo describes the position of a result page.
type PageInfo struct {
	CurrentPage int   `json:"current_page"`
	TotalPages  int   `json:"total_pages"`
	HasPrev     bool  `json:"has_prev"`
	HasNext     bool  `json:"has_next"`
	PageRange   []int `json:"page_range"`
}

// ThreadPage is one page of threads with their ordered images preloaded.
type ThreadPage struct {
	Threads  []Thread
	PageInfo PageInfo
}

// GetThread loads one thread with its images in position order.
func (s *Service) GetThread(ctx context.Context, topicID TopicID) (Thread, error) {
	if s.db == nil {
		s.logError(opGetThread, reasonMissingDatabase, errMissingDatabase)
		return Thread{}, newServiceError(opGetThread, reasonMissingDatabase, errMissingDatabase)
	}

	var thread Thread
	err := s.db.WithContext(ctx).
		Preload("Images", orderImages).
		Where(queryTopicID, topicID.Int64()).
		Take(&thread).Error
	if isNotFound(err) {
		return Thread{}, newServiceError(opGetThread, reasonThreadMissing, ErrThreadNotFound)
	}
	if err != nil {
		s.logError(opGetThread, reasonQueryFailed, err, zap.Int64(fieldTopicID, topicID.Int64()))
		return Thread{}, newServiceError(opGetThread, reasonQueryFailed, err)
	}
	return thread, nil
}

// ListThreads returns a page of threads ordered by the requested sort.
func (s *Service) ListThreads(ctx context.Context, query ThreadQuery) (ThreadPage, error) {
	if s.db == nil {
		s.logError(opListThreads, reasonMissingDatabase, errMissingDatabase)
		return ThreadPage{}, newServiceError(opListThreads, reasonMissingDatabase, errMissingDatabase)
	}

	var orderColumn string
	switch query.Sort {
	case SortLatest:
		orderColumn = "last_updated_at DESC"
	case SortNewest:
		orderColumn = "created_at DESC"
	default:
		return ThreadPage{}, newServiceError(opListThreads, reasonInvalidSort, fmt.Errorf("%w: %q", ErrInvalidSort, query.Sort))
	}
	page, limit, err := normalizePaging(query.Page, query.Limit)
	if err != nil {
		return ThreadPage{}, newServiceError(opListThreads, reasonInvalidPage, err)
	}

	scope := s.db.WithContext(ctx).Model(&Thread{})
	if query.Category != nil {
		if _, err := query.Category.BoardID(); err != nil {
			return ThreadPage{}, newServiceError(opListThreads, reasonInvalidCategory, err)
		}
		scope = scope.Where("category = ?", query.Category.String())
	}

	return s.pageThreads(opListThreads, scope, orderColumn+", topic_id DESC", page, limit)
}

// SearchThreads pages threads whose title contains query, ignoring case.
func (s *Service) SearchThreads(ctx context.Context, query string, page, limit int) (ThreadPage, error) {
	if s.db == nil {
		s.logError(opSearchThreads, reasonMissingDatabase, errMissingDatabase)
		return ThreadPage{}, newServiceError(opSearchThreads, reasonMissingDatabase, errMissingDatabase)
	}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return ThreadPage{}, newServiceError(opSearchThreads, reasonMissingQuery, ErrEmptyQuery)
	}
	page, limit, err := normalizePaging(page, limit)
	if err != nil {
		return ThreadPage{}, newServiceError(opSearchThreads, reasonInvalidPage, err)
	}

	pattern := "%" + escapeLike(strings.ToLower(trimmed)) + "%"
	scope := s.db.WithContext(ctx).Model(&Thread{}).Where("LOWER(title) LIKE ? ESCAPE '\\'", pattern)
	return s.pageThreads(opSearchThreads, scope, "last_updated_at DESC, topic_id DESC", page, limit)
}

func (s *Service) pageThreads(operation string, scope *gorm.DB, order string, page, limit int) (ThreadPage, error) {
	var total int64
	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return ThreadPage{}, newServiceError(operation, reasonQueryFailed, err)
	}

	var threads []Thread
	if err := scope.Session(&gorm.Session{}).
		Preload("Images", orderImages).
		Order(order).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&threads).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return ThreadPage{}, newServiceError(operation, reasonQueryFailed, err)
	}

	return ThreadPage{Threads: threads, PageInfo: buildPageInfo(page, limit, total)}, nil
}

// ListComments returns every stored comment of a topic ordered by the requested sort.
func (s *Service) ListComments(ctx context.Context, topicID TopicID, sortType SortType) ([]Comment, error) {
	if s.db == nil {
		s.logError(opListComments, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opListComments, reasonMissingDatabase, errMissingDatabase)
	}

	var order string
	switch sortType {
	case SortLatest:
		order = "created_at DESC, number DESC"
	case SortNewest:
		order = "created_at ASC, number ASC"
	default:
		return nil, newServiceError(opListComments, reasonInvalidSort, fmt.Errorf("%w: %q", ErrInvalidSort, sortType))
	}

	var comments []Comment
	if err := s.db.WithContext(ctx).
		Where(queryTopicID, topicID.Int64()).
		Order(order).
		Find(&comments).Error; err != nil {
		s.logError(opListComments, reasonQueryFailed, err, zap.Int64(fieldTopicID, topicID.Int64()))
		return nil, newServiceError(opListComments, reasonQueryFailed, err)
	}
	return comments, nil
}

// CommentsByCommenter returns every comment whose commenter matches name, ignoring case.
func (s *Service) CommentsByCommenter(ctx context.Context, name string) ([]Comment, error) {
	if s.db == nil {
		s.logError(opCommentsByCommenter, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opCommentsByCommenter, reasonMissingDatabase, errMissingDatabase)
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, newServiceError(opCommentsByCommenter, reasonMissingCommenter, ErrEmptyQuery)
	}

	var comments []Comment
	if err := s.db.WithContext(ctx).
		Where("LOWER(commenter) = ?", strings.ToLower(trimmed)).
		Order("created_at DESC, id DESC").
		Find(&comments).Error; err != nil {
		s.logError(opCommentsByCommenter, reasonQueryFailed, err, zap.String("commenter", trimmed))
		return nil, newServiceError(opCommentsByCommenter, reasonQueryFailed, err)
	}
	return comments, nil
}

func orderImages(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func normalizePaging(page, limit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if page < 0 || limit < 0 {
		return 0, 0, fmt.Errorf("%w: page=%d limit=%d", ErrInvalidPage, page, limit)
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit, nil
}

func buildPageInfo(page, limit int, total int64) PageInfo {
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	info := PageInfo{
		CurrentPage: page,
		TotalPages:  totalPages,
		HasPrev:     page > 1,
		HasNext:     page < totalPages,
		PageRange:   []int{},
	}
	first := page - pageRangeBefore
	if first < 1 {
		first = 1
	}
	last := page + pageRangeAfter
	if last > totalPages {
		last = totalPages
	}
	for number := first; number <= last; number++ {
		info.PageRange = append(info.PageRange, number)
	}
	return info
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
