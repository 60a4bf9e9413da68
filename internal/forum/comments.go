package forum

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CommentSource exposes a thread's comment pages as the source paginates them.
type CommentSource interface {
	// PageComments returns the comments rendered on the page at offset, in page
	// order. The page at offset 0 also reports the offset of the newest page.
	PageComments(ctx context.Context, topicID TopicID, offset int) (CommentPage, error)
}

// CommentPage is one fetched comment page.
type CommentPage struct {
	Comments []ExtractedComment
	// LastOffset is the offset of the thread's newest comment page. Only the
	// page at offset 0 sets it.
	LastOffset int
}

// CommentSyncResult summarizes one ProcessComments run.
type CommentSyncResult struct {
	TopicID      TopicID `json:"topic_id"`
	Watermark    *int64  `json:"watermark"`
	PagesVisited int     `json:"pages_visited"`
	Inserted     int     `json:"inserted"`
}

// ProcessComments discovers comments newer than the stored watermark by walking
// comment pages backward from the newest one, then stores them in one transaction.
func (s *Service) ProcessComments(ctx context.Context, topicID TopicID) (CommentSyncResult, error) {
	result := CommentSyncResult{TopicID: topicID}
	if s.db == nil {
		s.logError(opProcessComments, reasonMissingDatabase, errMissingDatabase)
		return result, newServiceError(opProcessComments, reasonMissingDatabase, errMissingDatabase)
	}
	if s.commentSource == nil {
		s.logError(opProcessComments, reasonMissingSource, ErrMissingCommentSource)
		return result, newServiceError(opProcessComments, reasonMissingSource, ErrMissingCommentSource)
	}
	if _, err := NewTopicID(topicID.Int64()); err != nil {
		return result, newServiceError(opProcessComments, reasonInvalidTopicID, err)
	}

	db := s.db.WithContext(ctx)
	var threadCount int64
	if err := db.Model(&Thread{}).Where(queryTopicID, topicID.Int64()).Count(&threadCount).Error; err != nil {
		s.logError(opProcessComments, reasonThreadLookupFailed, err, zap.Int64(fieldTopicID, topicID.Int64()))
		return result, newServiceError(opProcessComments, reasonThreadLookupFailed, err)
	}
	if threadCount == 0 {
		return result, newServiceError(opProcessComments, reasonThreadMissing, ErrThreadNotFound)
	}

	watermark, err := s.commentWatermark(db, topicID)
	if err != nil {
		s.logError(opProcessComments, reasonWatermarkFailed, err, zap.Int64(fieldTopicID, topicID.Int64()))
		return result, newServiceError(opProcessComments, reasonWatermarkFailed, err)
	}
	result.Watermark = watermark

	// The first page carries the pagination, so it is fetched once and reused
	// when the backward walk reaches offset 0.
	firstPage, err := s.fetchCommentPage(ctx, topicID, 0)
	if err != nil {
		return result, err
	}
	result.PagesVisited++

	staged := make([]ExtractedComment, 0)
	reachedWatermark := false
	for offset := firstPage.LastOffset; offset >= 0 && !reachedWatermark; offset -= PageSize {
		page := firstPage
		if offset != 0 {
			page, err = s.fetchCommentPage(ctx, topicID, offset)
			if err != nil {
				return result, err
			}
			result.PagesVisited++
		}

		for index := len(page.Comments) - 1; index >= 0; index-- {
			comment := page.Comments[index]
			if watermark != nil && comment.Number <= *watermark {
				reachedWatermark = true
				break
			}
			staged = append(staged, comment)
		}
	}

	if len(staged) == 0 {
		return result, nil
	}

	sort.Slice(staged, func(i, j int) bool {
		return staged[i].Number < staged[j].Number
	})
	rows := make([]Comment, 0, len(staged))
	for _, comment := range staged {
		row, err := commentFromExtracted(topicID, comment)
		if err != nil {
			s.logError(opProcessComments, reasonMessageEncodeFailed, err,
				zap.Int64(fieldTopicID, topicID.Int64()),
				zap.Int64("number", comment.Number))
			return result, newServiceError(opProcessComments, reasonMessageEncodeFailed, err)
		}
		rows = append(rows, row)
	}

	var inserted int64
	txErr := db.Transaction(func(tx *gorm.DB) error {
		createResult := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, commentInsertBatch)
		if createResult.Error != nil {
			return createResult.Error
		}
		inserted = createResult.RowsAffected
		return nil
	})
	if txErr != nil {
		s.logError(opProcessComments, reasonCommentInsertFailed, txErr, zap.Int64(fieldTopicID, topicID.Int64()))
		return result, newServiceError(opProcessComments, reasonCommentInsertFailed, txErr)
	}
	result.Inserted = int(inserted)

	s.loggerOrDefault().Debug("comments reconciled",
		zap.Int64(fieldTopicID, topicID.Int64()),
		zap.Int("pages", result.PagesVisited),
		zap.Int("inserted", result.Inserted))
	return result, nil
}

func (s *Service) fetchCommentPage(ctx context.Context, topicID TopicID, offset int) (CommentPage, error) {
	page, err := s.commentSource.PageComments(ctx, topicID, offset)
	if err != nil {
		s.logError(opProcessComments, reasonPageFailed, err,
			zap.Int64(fieldTopicID, topicID.Int64()),
			zap.Int("offset", offset))
		return CommentPage{}, newServiceError(opProcessComments, reasonPageFailed, err)
	}
	if page.LastOffset < 0 {
		page.LastOffset = 0
	}
	return page, nil
}

// CommentWatermark returns the highest stored comment number for a topic, or nil
// when no comment is stored yet.
func (s *Service) CommentWatermark(ctx context.Context, topicID TopicID) (*int64, error) {
	if s.db == nil {
		return nil, newServiceError(opProcessComments, reasonMissingDatabase, errMissingDatabase)
	}
	watermark, err := s.commentWatermark(s.db.WithContext(ctx), topicID)
	if err != nil {
		return nil, newServiceError(opProcessComments, reasonWatermarkFailed, err)
	}
	return watermark, nil
}

func (s *Service) commentWatermark(db *gorm.DB, topicID TopicID) (*int64, error) {
	var maxNumber sql.NullInt64
	err := db.Model(&Comment{}).
		Select("MAX(number)").
		Where(queryTopicID, topicID.Int64()).
		Scan(&maxNumber).Error
	if err != nil {
		return nil, err
	}
	if !maxNumber.Valid {
		return nil, nil
	}
	value := maxNumber.Int64
	return &value, nil
}

func commentFromExtracted(topicID TopicID, comment ExtractedComment) (Comment, error) {
	message, err := EncodeMessage(comment.Message)
	if err != nil {
		return Comment{}, err
	}
	return Comment{
		TopicID:         topicID.Int64(),
		Number:          comment.Number,
		SourceMessageID: comment.SourceMessageID,
		Link:            comment.Link,
		Commenter:       comment.Commenter,
		CreatedAt:       comment.CreatedAt.UTC(),
		IsStarter:       comment.IsStarter,
		IsReplyToQuote:  comment.IsReplyToQuote || HasQuote(comment.Message),
		MessageJSON:     message,
		AttachmentHTML:  comment.Attachment,
	}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
