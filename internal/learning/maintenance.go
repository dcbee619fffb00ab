package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talentai/learning/internal/cache"
	"talentai/learning/internal/metrics"
	"talentai/learning/internal/tuning"

	"go.uber.org/zap"
)

type MaintenanceReport struct {
	RanAt            time.Time            `json:"ran_at"`
	StoreHealthy     bool                 `json:"store_healthy"`
	CacheHealthy     bool                 `json:"cache_healthy"`
	ActiveModel      string               `json:"active_model,omitempty"`
	Experiment       *tuning.ABTestResult `json:"experiment,omitempty"`
	ExperimentAction string               `json:"experiment_action"`
	RemovedRows      int64                `json:"removed_rows"`
}

// RunMaintenance is the periodic health, experiment and retention pass. Each
// step runs even when an earlier one failed; the errors are joined.
func (p *Pipeline) RunMaintenance(ctx context.Context) (*MaintenanceReport, error) {
	report := &MaintenanceReport{RanAt: p.now(), ExperimentAction: tuning.ActionNone}
	var errs []error

	if err := p.store.Ping(ctx); err != nil {
		p.logger.Error("Store health check failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("store ping: %w", err))
	} else {
		report.StoreHealthy = true
	}

	if err := p.cache.Ping(ctx); err != nil {
		// the cache is optional; reads fall through to the store
		p.logger.Warn("Cache health check failed", zap.Error(err))
	} else {
		report.CacheHealthy = true
	}

	report.ActiveModel = p.models.ActiveVersion()
	if report.ActiveModel == "" {
		p.logger.Warn("No active model")
	}

	if report.StoreHealthy {
		if err := p.reviewExperiment(ctx, report); err != nil {
			errs = append(errs, err)
		}

		removed, err := p.store.CleanupOldData(ctx, p.Config().RetentionDays)
		if err != nil {
			errs = append(errs, fmt.Errorf("cleanup: %w", err))
		} else {
			report.RemovedRows = removed
			metrics.AddCleanupRemoved(removed)
			if removed > 0 {
				p.cache.Invalidate(ctx, cache.KeyInsights)
			}
		}
	}

	p.logger.Info("Maintenance finished",
		zap.Bool("store_healthy", report.StoreHealthy),
		zap.String("active_model", report.ActiveModel),
		zap.String("experiment_action", report.ExperimentAction),
		zap.Int64("removed_rows", report.RemovedRows))
	return report, errors.Join(errs...)
}

func (p *Pipeline) reviewExperiment(ctx context.Context, report *MaintenanceReport) error {
	res, err := p.models.AnalyzeABTest(ctx)
	if err != nil {
		return fmt.Errorf("analyze experiment: %w", err)
	}
	if res.Status == tuning.ExperimentNone {
		return nil
	}
	report.Experiment = res

	action, err := p.models.ConcludeExperiment(ctx, res)
	if err != nil {
		return fmt.Errorf("conclude experiment: %w", err)
	}
	report.ExperimentAction = action
	if action != tuning.ActionNone {
		report.ActiveModel = p.models.ActiveVersion()
	}
	return nil
}
