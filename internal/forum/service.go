package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrMissingCommentSource indicates that comment sync was requested without a page source.
	ErrMissingCommentSource = errors.New("forum: comment source is required")
	noOpLogger              = zap.NewNop()
)

// ServiceError carries an operation.reason code around a storage or validation failure.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "forum.service.new"
	opProcessThread    = "forum.process_thread"
	opProcessComments  = "forum.process_comments"
	fieldTopicID       = "topic_id"
	fieldCategory      = "category"
	queryTopicID       = "topic_id = ?"
	imageInsertBatch   = 100
	commentInsertBatch = 100

	reasonMissingDatabase     = "missing_database"
	reasonInvalidTopicID      = "invalid_topic_id"
	reasonInvalidCategory     = "invalid_category"
	reasonThreadLookupFailed  = "thread_lookup_failed"
	reasonThreadInsertFailed  = "thread_insert_failed"
	reasonThreadUpdateFailed  = "thread_update_failed"
	reasonImageDeleteFailed   = "image_delete_failed"
	reasonImageInsertFailed   = "image_insert_failed"
	reasonQueryFailed         = "query_failed"
	reasonMissingSource       = "missing_comment_source"
	reasonThreadMissing       = "thread_not_found"
	reasonWatermarkFailed     = "watermark_lookup_failed"
	reasonPageFailed          = "page_failed"
	reasonMessageEncodeFailed = "message_encode_failed"
	reasonCommentInsertFailed = "comment_insert_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the reconciliation engine.
type ServiceConfig struct {
	Database      *gorm.DB
	CommentSource CommentSource
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service reconciles extracted forum data with the store and answers queries over it.
type Service struct {
	db            *gorm.DB
	commentSource CommentSource
	clock         func() time.Time
	logger        *zap.Logger
}

// NewService validates the configuration and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:            cfg.Database,
		commentSource: cfg.CommentSource,
		clock:         clock,
		logger:        logger,
	}, nil
}

// ProcessThread inserts, updates or skips one extracted thread. All writes for
// the thread run in a single transaction.
func (s *Service) ProcessThread(ctx context.Context, extracted ExtractedThread) (ThreadOutcome, error) {
	if s.db == nil {
		s.logError(opProcessThread, reasonMissingDatabase, errMissingDatabase)
		return "", newServiceError(opProcessThread, reasonMissingDatabase, errMissingDatabase)
	}
	if _, err := NewTopicID(extracted.TopicID.Int64()); err != nil {
		return "", newServiceError(opProcessThread, reasonInvalidTopicID, err)
	}
	if _, err := extracted.Category.BoardID(); err != nil {
		return "", newServiceError(opProcessThread, reasonInvalidCategory, err)
	}

	topicID := extracted.TopicID.Int64()
	var outcome ThreadOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Thread
		var existingPtr *Thread
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryTopicID, topicID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existingPtr = nil
		} else if err != nil {
			s.logError(opProcessThread, reasonThreadLookupFailed, err, zap.Int64(fieldTopicID, topicID))
			return newServiceError(opProcessThread, reasonThreadLookupFailed, err)
		} else {
			existingPtr = &existing
		}

		decision := resolveThread(existingPtr, extracted)
		outcome = decision.outcome

		switch decision.outcome {
		case ThreadOutcomeUnchanged:
			return nil
		case ThreadOutcomeStale:
			s.loggerOrDefault().Warn("observed last activity older than stored value",
				zap.Int64(fieldTopicID, topicID),
				zap.Time("stored_last_updated", existing.LastUpdatedAt),
				zap.Time("observed_last_updated", extracted.LastUpdated))
			return nil
		case ThreadOutcomeInserted:
			if err := tx.Omit(clause.Associations).Create(decision.thread).Error; err != nil {
				s.logError(opProcessThread, reasonThreadInsertFailed, err, zap.Int64(fieldTopicID, topicID))
				return newServiceError(opProcessThread, reasonThreadInsertFailed, err)
			}
		case ThreadOutcomeUpdated:
			if err := tx.Omit(clause.Associations).Save(decision.thread).Error; err != nil {
				s.logError(opProcessThread, reasonThreadUpdateFailed, err, zap.Int64(fieldTopicID, topicID))
				return newServiceError(opProcessThread, reasonThreadUpdateFailed, err)
			}
			if err := tx.Where(queryTopicID, topicID).Delete(&Image{}).Error; err != nil {
				s.logError(opProcessThread, reasonImageDeleteFailed, err, zap.Int64(fieldTopicID, topicID))
				return newServiceError(opProcessThread, reasonImageDeleteFailed, err)
			}
		}

		if len(decision.images) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(decision.images, imageInsertBatch).Error; err != nil {
			s.logError(opProcessThread, reasonImageInsertFailed, err, zap.Int64(fieldTopicID, topicID))
			return newServiceError(opProcessThread, reasonImageInsertFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return "", txErr
	}

	s.loggerOrDefault().Debug("thread reconciled",
		zap.Int64(fieldTopicID, topicID),
		zap.String(fieldCategory, extracted.Category.String()),
		zap.String("outcome", string(outcome)),
		zap.Int("images", len(extracted.Images)))
	return outcome, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("forum service error", attrs...)
}
