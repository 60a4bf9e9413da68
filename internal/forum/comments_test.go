package forum

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func seedComments(t *testing.T, service *Service, topicID TopicID, count int64) {
	t.Helper()
	source := &pagedCommentSource{total: count}
	page := make([]ExtractedComment, 0, count)
	for offset := 0; int64(offset) < count; offset += PageSize {
		fetched, err := source.PageComments(context.Background(), topicID, offset)
		if err != nil {
			t.Fatalf("failed to build seed comments: %v", err)
		}
		page = append(page, fetched.Comments...)
	}
	rows := make([]Comment, 0, len(page))
	for _, comment := range page {
		row, err := commentFromExtracted(topicID, comment)
		if err != nil {
			t.Fatalf("failed to convert seed comment: %v", err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return
	}
	if err := service.db.CreateInBatches(rows, 100).Error; err != nil {
		t.Fatalf("failed to seed comments: %v", err)
	}
}

func TestProcessCommentsInsertsOnlyAboveWatermark(t *testing.T) {
	source := &pagedCommentSource{total: 125}
	service, db := newTestService(t, source)
	topicID := mustTopicID(t, 42)
	if _, err := service.ProcessThread(context.Background(), extractedThread(42, firstActivity)); err != nil {
		t.Fatalf("failed to seed thread: %v", err)
	}
	seedComments(t, service, topicID, 120)

	result, err := service.ProcessComments(context.Background(), topicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Inserted != 5 {
		t.Fatalf("expected 5 inserted comments, got %d", result.Inserted)
	}
	if result.Watermark == nil || *result.Watermark != 120 {
		t.Fatalf("unexpected watermark %v", result.Watermark)
	}
	if fmt.Sprint(source.fetched) != fmt.Sprint([]int{0, 100}) {
		t.Fatalf("expected the first page and then only the newest page, got %v", source.fetched)
	}

	var numbers []int64
	if err := db.Model(&Comment{}).Where("topic_id = ? AND number > ?", 42, 119).Order("number ASC").Pluck("number", &numbers).Error; err != nil {
		t.Fatalf("failed to load numbers: %v", err)
	}
	expected := []int64{120, 121, 122, 123, 124, 125}
	if fmt.Sprint(numbers) != fmt.Sprint(expected) {
		t.Fatalf("expected %v, got %v", expected, numbers)
	}
	var duplicateCount int64
	if err := db.Model(&Comment{}).Where("topic_id = ? AND number = ?", 42, 120).Count(&duplicateCount).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if duplicateCount != 1 {
		t.Fatalf("expected a single comment 120, got %d", duplicateCount)
	}
}

func TestProcessCommentsWalksBackwardAcrossPages(t *testing.T) {
	source := &pagedCommentSource{total: 130}
	service, _ := newTestService(t, source)
	topicID := mustTopicID(t, 7)
	if _, err := service.ProcessThread(context.Background(), extractedThread(7, firstActivity)); err != nil {
		t.Fatalf("failed to seed thread: %v", err)
	}
	seedComments(t, service, topicID, 30)

	result, err := service.ProcessComments(context.Background(), topicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Inserted != 100 {
		t.Fatalf("expected 100 inserted comments, got %d", result.Inserted)
	}
	if fmt.Sprint(source.fetched) != fmt.Sprint([]int{0, 100, 50}) {
		t.Fatalf("unexpected page walk %v", source.fetched)
	}
	if result.PagesVisited != 3 {
		t.Fatalf("expected 3 pages visited, got %d", result.PagesVisited)
	}

	watermark, err := service.CommentWatermark(context.Background(), topicID)
	if err != nil {
		t.Fatalf("unexpected watermark error: %v", err)
	}
	if watermark == nil || *watermark != 130 {
		t.Fatalf("expected watermark 130, got %v", watermark)
	}
}

func TestProcessCommentsIsIdempotent(t *testing.T) {
	source := &pagedCommentSource{total: 60}
	service, db := newTestService(t, source)
	topicID := mustTopicID(t, 8)
	if _, err := service.ProcessThread(context.Background(), extractedThread(8, firstActivity)); err != nil {
		t.Fatalf("failed to seed thread: %v", err)
	}

	first, err := service.ProcessComments(context.Background(), topicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Watermark != nil {
		t.Fatalf("expected no watermark before the first sync")
	}
	if first.Inserted != 60 {
		t.Fatalf("expected 60 inserted comments, got %d", first.Inserted)
	}

	source.fetched = nil
	second, err := service.ProcessComments(context.Background(), topicID)
	if err != nil {
		t.Fatalf("unexpected error on rerun: %v", err)
	}
	if second.Inserted != 0 {
		t.Fatalf("expected no inserts on rerun, got %d", second.Inserted)
	}
	if second.Watermark == nil || *second.Watermark != 60 {
		t.Fatalf("expected watermark 60, got %v", second.Watermark)
	}
	if fmt.Sprint(source.fetched) != fmt.Sprint([]int{0, 50}) {
		t.Fatalf("expected rerun to stop on the newest page, fetched %v", source.fetched)
	}

	var count int64
	if err := db.Model(&Comment{}).Where("topic_id = ?", 8).Count(&count).Error; err != nil {
		t.Fatalf("failed to count comments: %v", err)
	}
	if count != 60 {
		t.Fatalf("expected 60 stored comments, got %d", count)
	}
}

func TestProcessCommentsSinglePageFetchesOnce(t *testing.T) {
	source := &pagedCommentSource{total: 30}
	service, _ := newTestService(t, source)
	topicID := mustTopicID(t, 9)
	if _, err := service.ProcessThread(context.Background(), extractedThread(9, firstActivity)); err != nil {
		t.Fatalf("failed to seed thread: %v", err)
	}
	seedComments(t, service, topicID, 25)

	result, err := service.ProcessComments(context.Background(), topicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(source.fetched) != fmt.Sprint([]int{0}) {
		t.Fatalf("expected a single request for a one-page thread, got %v", source.fetched)
	}
	if result.PagesVisited != 1 || result.Inserted != 5 {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestProcessCommentsStoresMessageSegments(t *testing.T) {
	commenter := "quoted-user"
	source := &staticCommentSource{comments: []ExtractedComment{{
		Number:    1,
		Commenter: "replier",
		CreatedAt: firstActivity,
		IsStarter: true,
		Message: []MessageSegment{
			QuoteSegment(Quote{Commenter: &commenter, Message: []MessageSegment{TextSegment("original")}}),
			TextSegment("agreed"),
		},
	}}}
	service, db := newTestService(t, source)
	topicID := mustTopicID(t, 11)
	if _, err := service.ProcessThread(context.Background(), extractedThread(11, firstActivity)); err != nil {
		t.Fatalf("failed to seed thread: %v", err)
	}

	if _, err := service.ProcessComments(context.Background(), topicID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored Comment
	if err := db.Where("topic_id = ?", 11).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load comment: %v", err)
	}
	if !stored.IsReplyToQuote || !stored.IsStarter {
		t.Fatalf("expected quote and starter flags, got %#v", stored)
	}
	message, err := stored.Message()
	if err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if len(message) != 2 || message[0].Quote == nil || *message[0].Quote.Commenter != commenter {
		t.Fatalf("unexpected message %#v", message)
	}
}

func TestProcessCommentsFailures(t *testing.T) {
	t.Run("missing-source", func(t *testing.T) {
		service, _ := newTestService(t, nil)
		_, err := service.ProcessComments(context.Background(), mustTopicID(t, 1))
		if !errors.Is(err, ErrMissingCommentSource) {
			t.Fatalf("expected missing source error, got %v", err)
		}
	})

	t.Run("unknown-thread", func(t *testing.T) {
		service, _ := newTestService(t, &pagedCommentSource{total: 3})
		_, err := service.ProcessComments(context.Background(), mustTopicID(t, 1))
		if !errors.Is(err, ErrThreadNotFound) {
			t.Fatalf("expected thread not found, got %v", err)
		}
	})

	t.Run("first-page-error", func(t *testing.T) {
		source := &pagedCommentSource{total: 120, failFirst: true}
		service, _ := newTestService(t, source)
		if _, err := service.ProcessThread(context.Background(), extractedThread(4, firstActivity)); err != nil {
			t.Fatalf("failed to seed thread: %v", err)
		}
		_, err := service.ProcessComments(context.Background(), mustTopicID(t, 4))
		var serviceErr *ServiceError
		if !errors.As(err, &serviceErr) || serviceErr.Code() != "forum.process_comments.page_failed" {
			t.Fatalf("expected page failure, got %v", err)
		}
		if fmt.Sprint(source.fetched) != fmt.Sprint([]int{0}) {
			t.Fatalf("expected the walk to stop at the first page, got %v", source.fetched)
		}
	})

	t.Run("page-error-writes-nothing", func(t *testing.T) {
		source := &pagedCommentSource{total: 120, failAt: 50}
		service, db := newTestService(t, source)
		if _, err := service.ProcessThread(context.Background(), extractedThread(3, firstActivity)); err != nil {
			t.Fatalf("failed to seed thread: %v", err)
		}
		_, err := service.ProcessComments(context.Background(), mustTopicID(t, 3))
		var serviceErr *ServiceError
		if !errors.As(err, &serviceErr) || serviceErr.Code() != "forum.process_comments.page_failed" {
			t.Fatalf("expected page failure, got %v", err)
		}
		var count int64
		if err := db.Model(&Comment{}).Count(&count).Error; err != nil {
			t.Fatalf("failed to count comments: %v", err)
		}
		if count != 0 {
			t.Fatalf("expected no comments stored after a failed walk, got %d", count)
		}
	})
}

type staticCommentSource struct {
	comments []ExtractedComment
}

func (s *staticCommentSource) PageComments(ctx context.Context, topicID TopicID, offset int) (CommentPage, error) {
	return CommentPage{Comments: s.comments}, nil
}
