package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/crawler"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/scrape"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeSyncer struct {
	categories []forum.Category
	options    []crawler.Options
	err        error
}

func (s *fakeSyncer) SyncCategory(ctx context.Context, category forum.Category, opts crawler.Options) (crawler.Summary, error) {
	s.categories = append(s.categories, category)
	s.options = append(s.options, opts)
	return crawler.Summary{RunID: "run-1", Category: category, StopReason: crawler.StopUnchanged}, s.err
}

func (s *fakeSyncer) SyncAll(ctx context.Context, opts crawler.Options) ([]crawler.Summary, error) {
	summaries := make([]crawler.Summary, 0, 2)
	for _, category := range forum.Categories() {
		summary, err := s.SyncCategory(ctx, category, opts)
		summaries = append(summaries, summary)
		if err != nil {
			return summaries, err
		}
	}
	return summaries, nil
}

func (s *fakeSyncer) SyncComments(ctx context.Context, topicID forum.TopicID) (forum.CommentSyncResult, error) {
	return forum.CommentSyncResult{TopicID: topicID, Inserted: 3, PagesVisited: 1}, s.err
}

func newTestRouter(t *testing.T, syncer Syncer) (http.Handler, *forum.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(forum.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := forum.NewService(forum.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{ForumService: service, Syncer: syncer, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler, service
}

func seedThread(t *testing.T, service *forum.Service, topicID int64, category forum.Category, title string) {
	t.Helper()
	extracted := forum.MergeThread(
		forum.ThreadStub{
			URL:         fmt.Sprintf("https://geekhack.org/index.php?topic=%d.0", topicID),
			TopicID:     forum.TopicID(topicID),
			LastUpdated: time.Date(2026, time.March, 1, 0, 0, int(topicID), 0, time.UTC),
			Category:    category,
		},
		forum.ThreadDetails{
			Title:    title,
			Creator:  "designer",
			Created:  time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
			Images:   []string{"https://i.imgur.com/a.png", "https://i.imgur.com/b.png"},
			BodyHTML: "<div>body</div>",
		},
	)
	if _, err := service.ProcessThread(context.Background(), extracted); err != nil {
		t.Fatalf("failed to seed thread: %v", err)
	}
}

func serve(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestThreadRoutes(t *testing.T) {
	handler, service := newTestRouter(t, &fakeSyncer{})
	seedThread(t, service, 10, forum.CategoryInterestCheck, "[IC] Alpha keycaps")
	seedThread(t, service, 11, forum.CategoryGroupBuy, "[GB] Beta board")

	recorder := serve(handler, http.MethodGet, "/api/posts/10", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var thread threadPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &thread); err != nil {
		t.Fatalf("failed to decode thread: %v", err)
	}
	if thread.TopicID != 10 || len(thread.Images) != 2 || thread.Images[0] != "https://i.imgur.com/a.png" || thread.BodyHTML == "" {
		t.Fatalf("unexpected thread %#v", thread)
	}

	recorder = serve(handler, http.MethodGet, "/api/posts/ALL/latest?limit=1", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var list threadListPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list.Posts) != 1 || list.Posts[0].TopicID != 11 || !list.PageInfo.HasNext {
		t.Fatalf("unexpected list %#v", list)
	}

	recorder = serve(handler, http.MethodGet, "/api/posts/ic/newest", "")
	if err := json.Unmarshal(recorder.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list.Posts) != 1 || list.Posts[0].Category != "IC" {
		t.Fatalf("unexpected category filter result %#v", list.Posts)
	}

	recorder = serve(handler, http.MethodPost, "/api/posts/search", `{"query":"BETA"}`)
	if err := json.Unmarshal(recorder.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to decode search: %v", err)
	}
	if len(list.Posts) != 1 || list.Posts[0].TopicID != 11 {
		t.Fatalf("unexpected search result %#v", list.Posts)
	}
}

func TestRouteValidationErrors(t *testing.T) {
	handler, _ := newTestRouter(t, &fakeSyncer{})

	testCases := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "missing-thread", method: http.MethodGet, path: "/api/posts/404", wantStatus: http.StatusNotFound, wantError: "thread_not_found"},
		{name: "bad-topic", method: http.MethodGet, path: "/api/posts/abc", wantStatus: http.StatusBadRequest, wantError: "invalid_topic_id"},
		{name: "bad-category", method: http.MethodGet, path: "/api/posts/XX/latest", wantStatus: http.StatusBadRequest, wantError: "invalid_category"},
		{name: "bad-sort", method: http.MethodGet, path: "/api/posts/IC/oldest", wantStatus: http.StatusBadRequest, wantError: "invalid_sort"},
		{name: "bad-page", method: http.MethodGet, path: "/api/posts/IC/latest?page=-1", wantStatus: http.StatusBadRequest, wantError: "invalid_page"},
		{name: "empty-search", method: http.MethodPost, path: "/api/posts/search", body: `{"query":"  "}`, wantStatus: http.StatusBadRequest, wantError: "invalid_request"},
		{name: "bad-update-category", method: http.MethodGet, path: "/api/update/XX", wantStatus: http.StatusBadRequest, wantError: "invalid_category"},
		{name: "bad-comment-sort", method: http.MethodGet, path: "/api/comments/10/oldest", wantStatus: http.StatusBadRequest, wantError: "invalid_sort"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := serve(handler, tc.method, tc.path, tc.body)
			if recorder.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, recorder.Code, recorder.Body.String())
			}
			var payload map[string]any
			if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if payload["error"] != tc.wantError {
				t.Fatalf("expected error %q, got %v", tc.wantError, payload["error"])
			}
		})
	}
}

func TestUpdateRoutes(t *testing.T) {
	syncer := &fakeSyncer{}
	handler, _ := newTestRouter(t, syncer)

	recorder := serve(handler, http.MethodGet, "/api/update/gb?limit=5&comments=true", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if len(syncer.categories) != 1 || syncer.categories[0] != forum.CategoryGroupBuy {
		t.Fatalf("unexpected synced categories %v", syncer.categories)
	}
	if syncer.options[0].Limit != 5 || !syncer.options[0].WithComments {
		t.Fatalf("unexpected options %#v", syncer.options[0])
	}

	recorder = serve(handler, http.MethodGet, "/api/update/all", "")
	if recorder.Code != http.StatusOK || len(syncer.categories) != 3 {
		t.Fatalf("expected both categories to sync, got %d %v", recorder.Code, syncer.categories)
	}

	recorder = serve(handler, http.MethodGet, "/api/comments/10/update", "")
	var result commentSyncPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode comment sync: %v", err)
	}
	if result.TopicID != 10 || result.Inserted != 3 {
		t.Fatalf("unexpected comment sync %#v", result)
	}

	syncer.err = &scrape.NetworkError{URL: "https://geekhack.org", StatusCode: http.StatusServiceUnavailable}
	recorder = serve(handler, http.MethodGet, "/api/update/ic", "")
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected bad gateway for source failures, got %d", recorder.Code)
	}
}

func TestHandleListThreadsIncludesServiceErrorCode(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	context, _ := gin.CreateTestContext(recorder)
	context.Request = httptest.NewRequest(http.MethodGet, "/api/posts/IC/latest", http.NoBody)
	context.Params = gin.Params{{Key: "key", Value: "IC"}, {Key: "sort", Value: "latest"}}

	handler := &httpHandler{
		forumService: &forum.Service{},
		logger:       zap.NewNop(),
	}

	handler.handleListThreads(context)

	if recorder.Code != http.StatusInternalServerError {
		testContext.Fatalf("expected internal server error status, got %d", recorder.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
	if payload["code"] != "forum.list_threads.missing_database" {
		testContext.Fatalf("expected service error code, got %v", payload["code"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler, _ := newTestRouter(t, &fakeSyncer{})
	recorder := serve(handler, http.MethodGet, "/metrics", "")
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), "go_goroutines") {
		t.Fatalf("expected prometheus exposition, got %d", recorder.Code)
	}
}
