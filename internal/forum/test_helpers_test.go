package forum

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustTopicID(t *testing.T, value int64) TopicID {
	t.Helper()
	id, err := NewTopicID(value)
	if err != nil {
		t.Fatalf("unexpected topic id error: %v", err)
	}
	return id
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:forum_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, source CommentSource) (*Service, *gorm.DB) {
	t.Helper()

	db := newTestDatabase(t)
	clock := func() time.Time { return time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC) }
	service, err := NewService(ServiceConfig{
		Database:      db,
		CommentSource: source,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct forum service: %v", err)
	}
	return service, db
}

func extractedThread(topicID int64, lastUpdated time.Time, images ...string) ExtractedThread {
	return MergeThread(
		ThreadStub{
			URL:         fmt.Sprintf("https://geekhack.org/index.php?topic=%d.0", topicID),
			TopicID:     TopicID(topicID),
			LastUpdated: lastUpdated,
			Category:    CategoryInterestCheck,
		},
		ThreadDetails{
			Title:    fmt.Sprintf("[IC] Keyboard %d", topicID),
			Creator:  "designer",
			Created:  time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC),
			Images:   images,
			BodyHTML: `<div class="inner">body</div>`,
		},
	)
}

func loadImages(t *testing.T, db *gorm.DB, topicID int64) []Image {
	t.Helper()
	var images []Image
	if err := db.Where("topic_id = ?", topicID).Order("position ASC").Find(&images).Error; err != nil {
		t.Fatalf("failed to load images: %v", err)
	}
	return images
}

// pagedCommentSource serves comments numbered 1..total in pages of PageSize,
// skipping nothing, and counts page fetches.
type pagedCommentSource struct {
	total     int64
	fetched   []int
	failAt    int
	failFirst bool
}

func (s *pagedCommentSource) PageComments(ctx context.Context, topicID TopicID, offset int) (CommentPage, error) {
	s.fetched = append(s.fetched, offset)
	if (s.failAt != 0 && offset == s.failAt) || (s.failFirst && offset == 0) {
		return CommentPage{}, fmt.Errorf("page %d unavailable", offset)
	}
	comments := make([]ExtractedComment, 0, PageSize)
	for number := int64(offset) + 1; number <= int64(offset)+PageSize && number <= s.total; number++ {
		comments = append(comments, ExtractedComment{
			Number:          number,
			SourceMessageID: 1000 + number,
			Link:            fmt.Sprintf("https://geekhack.org/index.php?topic=%d.msg%d#msg%d", topicID, 1000+number, 1000+number),
			Commenter:       fmt.Sprintf("user-%d", number%3),
			CreatedAt:       time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(number) * time.Minute),
			Message:         []MessageSegment{TextSegment(fmt.Sprintf("reply %d", number))},
		})
	}
	page := CommentPage{Comments: comments}
	if offset == 0 && s.total > 0 {
		page.LastOffset = int((s.total-1)/PageSize) * PageSize
	}
	return page, nil
}
