package crawler

import (
	"context"
	"errors"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var errMissingWalker = errors.New("crawler: walker is required")

// SchedulerConfig wires a Scheduler.
type SchedulerConfig struct {
	Walker   *Walker
	Schedule string
	Options  Options
	Logger   *zap.Logger
}

// Scheduler runs SyncAll on a cron schedule. A tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	walker  *Walker
	options Options
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler parses the schedule and registers the sync job.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Walker == nil {
		return nil, errMissingWalker
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := &Scheduler{
		walker:  cfg.Walker,
		options: cfg.Options,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	cronLogger := cronLogAdapter{logger: logger}
	scheduler.cron = cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if _, err := scheduler.cron.AddFunc(strings.TrimSpace(cfg.Schedule), scheduler.run); err != nil {
		cancel()
		return nil, err
	}
	return scheduler, nil
}

// Start begins firing the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("sync scheduler started")
}

// Stop cancels a running sync and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("sync scheduler stopped")
}

func (s *Scheduler) run() {
	summaries, err := s.walker.SyncAll(s.ctx, s.options)
	if err != nil {
		s.logger.Error("scheduled sync failed", zap.Error(err))
		return
	}
	for _, summary := range summaries {
		s.logger.Info("scheduled sync finished",
			zap.String("category", summary.Category.String()),
			zap.String("stop_reason", summary.StopReason),
			zap.Int("inserted", summary.Inserted),
			zap.Int("updated", summary.Updated))
	}
}

// cronLogAdapter routes cron's internal logging through zap.
type cronLogAdapter struct {
	logger *zap.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
