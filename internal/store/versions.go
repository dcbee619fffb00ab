package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talentai/learning/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SaveModelVersion inserts mv as the active version, deactivating the
// previous one in the same transaction. The first model goes through here.
// Later deploys use RecordModelVersion plus ActivateModelVersion.
func (s *Store) SaveModelVersion(ctx context.Context, mv *models.ModelVersion) (uint, error) {
	now := time.Now()
	mv.IsActive = true
	mv.DeployedAt = &now
	mv.TrafficWeight = 0

	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&models.ModelVersion{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(mv).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save model version %s: %w", mv.Version, err)
	}

	s.logger.Info("Saved and activated model version", zap.String("version", mv.Version))
	return mv.ID, nil
}

// RecordModelVersion inserts mv without activating it.
func (s *Store) RecordModelVersion(ctx context.Context, mv *models.ModelVersion) (uint, error) {
	mv.IsActive = false
	mv.DeployedAt = nil

	err := s.tx(ctx, func(tx *gorm.DB) error {
		return tx.Create(mv).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record model version %s: %w", mv.Version, err)
	}
	return mv.ID, nil
}

// ActivateModelVersion makes version the only active one, clears every
// traffic weight and returns the activated row.
func (s *Store) ActivateModelVersion(ctx context.Context, version string) (*models.ModelVersion, error) {
	var mv models.ModelVersion
	now := time.Now()

	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("version = ?", version).First(&mv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrModelVersionNotFound
			}
			return err
		}
		if err := tx.Model(&models.ModelVersion{}).
			Where("is_active = ? AND id <> ?", true, mv.ID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		// activation ends any running experiment
		if err := tx.Model(&models.ModelVersion{}).
			Where("traffic_weight > ?", 0).
			Update("traffic_weight", 0).Error; err != nil {
			return err
		}
		mv.IsActive = true
		mv.DeployedAt = &now
		mv.TrafficWeight = 0
		return tx.Model(&mv).Updates(map[string]interface{}{
			"is_active":      true,
			"deployed_at":    now,
			"traffic_weight": 0,
		}).Error
	})
	if errors.Is(err, ErrModelVersionNotFound) {
		return nil, fmt.Errorf("%s: %w", version, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to activate model version %s: %w", version, err)
	}

	s.logger.Info("Activated model version", zap.String("version", version))
	return &mv, nil
}

// SetTrafficWeight marks version as the experiment candidate with the given
// percentage. Any other candidate is cleared. startedAt is kept in the
// candidate's deployed_at so a restart can resume the experiment window.
func (s *Store) SetTrafficWeight(ctx context.Context, version string, weight int, startedAt time.Time) error {
	if weight < 0 || weight > 100 {
		return fmt.Errorf("traffic weight must be between 0 and 100, got %d", weight)
	}

	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&models.ModelVersion{}).
			Where("traffic_weight > ?", 0).
			Update("traffic_weight", 0).Error; err != nil {
			return err
		}
		res := tx.Model(&models.ModelVersion{}).
			Where("version = ?", version).
			Updates(map[string]interface{}{"traffic_weight": weight, "deployed_at": startedAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrModelVersionNotFound
		}
		return nil
	})
	if errors.Is(err, ErrModelVersionNotFound) {
		return fmt.Errorf("%s: %w", version, err)
	}
	if err != nil {
		return fmt.Errorf("failed to set traffic weight for %s: %w", version, err)
	}
	return nil
}

func (s *Store) ClearTrafficWeights(ctx context.Context) error {
	err := s.tx(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.ModelVersion{}).
			Where("traffic_weight > ?", 0).
			Update("traffic_weight", 0).Error
	})
	if err != nil {
		return fmt.Errorf("failed to clear traffic weights: %w", err)
	}
	return nil
}

// ListModelVersions returns every version, newest first.
func (s *Store) ListModelVersions(ctx context.Context) ([]models.ModelVersion, error) {
	var versions []models.ModelVersion
	if err := s.db.WithContext(ctx).Order("version DESC").Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("failed to list model versions: %w", err)
	}
	return versions, nil
}

func (s *Store) GetModelVersion(ctx context.Context, version string) (*models.ModelVersion, error) {
	var mv models.ModelVersion
	err := s.db.WithContext(ctx).Where("version = ?", version).First(&mv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", version, ErrModelVersionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model version %s: %w", version, err)
	}
	return &mv, nil
}

// GetActiveModelVersion returns ErrModelVersionNotFound before the first deployment.
func (s *Store) GetActiveModelVersion(ctx context.Context) (*models.ModelVersion, error) {
	var mv models.ModelVersion
	err := s.db.WithContext(ctx).Where("is_active = ?", true).First(&mv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrModelVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active model version: %w", err)
	}
	return &mv, nil
}
