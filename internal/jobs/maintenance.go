package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"talentai/learning/internal/learning"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Maintainer runs one maintenance pass.
type Maintainer interface {
	RunMaintenance(ctx context.Context) (*learning.MaintenanceReport, error)
}

type MaintenanceConfig struct {
	Enabled  bool
	Schedule string // cron expression or "@every 1h"
	// Backoff is the wait before a failed pass is retried once
	Backoff time.Duration
}

// MaintenanceJob runs the learning pipeline's periodic maintenance on a cron
// schedule. Overlapping runs are skipped and panics are recovered.
type MaintenanceJob struct {
	maintainer Maintainer
	config     MaintenanceConfig
	logger     *zap.Logger
	cron       *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func NewMaintenanceJob(maintainer Maintainer, config MaintenanceConfig, logger *zap.Logger) *MaintenanceJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &MaintenanceJob{
		maintainer: maintainer,
		config:     config,
		logger:     logger,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start schedules the job. It is a no-op when maintenance is disabled.
func (j *MaintenanceJob) Start() error {
	if !j.config.Enabled {
		j.logger.Info("Learning maintenance is disabled, skipping scheduler")
		return nil
	}

	if _, err := j.cron.AddFunc(j.config.Schedule, j.run); err != nil {
		return fmt.Errorf("failed to schedule maintenance job: %w", err)
	}
	j.cron.Start()
	j.logger.Info("Learning maintenance scheduled", zap.String("schedule", j.config.Schedule))
	return nil
}

// Stop cancels any backoff wait and blocks until a running pass returns.
func (j *MaintenanceJob) Stop() {
	j.once.Do(func() {
		j.cancel()
		<-j.cron.Stop().Done()
		j.logger.Info("Learning maintenance stopped")
	})
}

// RunNow runs one pass synchronously, without the retry.
func (j *MaintenanceJob) RunNow(ctx context.Context) (*learning.MaintenanceReport, error) {
	return j.maintainer.RunMaintenance(ctx)
}

func (j *MaintenanceJob) run() {
	_, err := j.maintainer.RunMaintenance(j.ctx)
	if err == nil {
		return
	}
	j.logger.Error("Maintenance pass failed, retrying after backoff",
		zap.Duration("backoff", j.config.Backoff), zap.Error(err))

	timer := time.NewTimer(j.config.Backoff)
	defer timer.Stop()
	select {
	case <-j.ctx.Done():
		return
	case <-timer.C:
	}

	if _, err := j.maintainer.RunMaintenance(j.ctx); err != nil {
		j.logger.Error("Maintenance retry failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
