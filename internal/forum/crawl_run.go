package forum

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	opRecordCrawlRun = "forum.record_crawl_run"
	opListCrawlRuns  = "forum.list_crawl_runs"

	reasonMissingRunID = "missing_run_id"
	reasonInsertFailed = "insert_failed"
)

var errMissingRunID = errors.New("crawl run id is required")

// CrawlRun records one walker invocation.
type CrawlRun struct {
	RunID            string    `gorm:"column:run_id;primaryKey;size:64;not null" json:"run_id"`
	Category         string    `gorm:"column:category;size:8;not null" json:"category"`
	StartedAt        time.Time `gorm:"column:started_at;not null;index" json:"started_at"`
	FinishedAt       time.Time `gorm:"column:finished_at;not null" json:"finished_at"`
	Pages            int       `gorm:"column:pages;not null;default:0" json:"pages"`
	Inserted         int       `gorm:"column:inserted;not null;default:0" json:"inserted"`
	Updated          int       `gorm:"column:updated;not null;default:0" json:"updated"`
	Unchanged        int       `gorm:"column:unchanged;not null;default:0" json:"unchanged"`
	Stale            int       `gorm:"column:stale;not null;default:0" json:"stale"`
	CommentsInserted int       `gorm:"column:comments_inserted;not null;default:0" json:"comments_inserted"`
	StopReason       string    `gorm:"column:stop_reason;size:32;not null;default:''" json:"stop_reason"`
	Error            string    `gorm:"column:error;type:text;not null;default:''" json:"error,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (CrawlRun) TableName() string {
	return "crawl_runs"
}

// RecordCrawlRun stores a finished crawl run.
func (s *Service) RecordCrawlRun(ctx context.Context, run CrawlRun) error {
	if s.db == nil {
		s.logError(opRecordCrawlRun, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(opRecordCrawlRun, reasonMissingDatabase, errMissingDatabase)
	}
	if strings.TrimSpace(run.RunID) == "" {
		return newServiceError(opRecordCrawlRun, reasonMissingRunID, errMissingRunID)
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = s.clock().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		s.logError(opRecordCrawlRun, reasonInsertFailed, err, zap.String("run_id", run.RunID))
		return newServiceError(opRecordCrawlRun, reasonInsertFailed, err)
	}
	return nil
}

// ListCrawlRuns returns the most recent crawl runs first.
func (s *Service) ListCrawlRuns(ctx context.Context, limit int) ([]CrawlRun, error) {
	if s.db == nil {
		s.logError(opListCrawlRuns, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opListCrawlRuns, reasonMissingDatabase, errMissingDatabase)
	}
	_, limit, err := normalizePaging(1, limit)
	if err != nil {
		return nil, newServiceError(opListCrawlRuns, reasonInvalidPage, err)
	}

	var runs []CrawlRun
	if err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		s.logError(opListCrawlRuns, reasonQueryFailed, err)
		return nil, newServiceError(opListCrawlRuns, reasonQueryFailed, err)
	}
	return runs, nil
}
