package tuning

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"talentai/learning/internal/metrics"

	"go.uber.org/zap"
)

// Deployment policy thresholds
const (
	firstDeployMinAccuracy = 0.6
	minImprovement         = 0.02
	highAccuracy           = 0.85
	highAccuracyMinGain    = 0.01
	maxTolerableDrop       = 0.01
	minRetainedRatio       = 0.95
	stableAccuracy         = 0.7

	// absorbs float error in differences such as 0.82-0.80
	epsilon = 1e-9
)

// ShouldDeployModel applies the deployment policy, in order:
//  1. no current model: deploy when accuracy >= 0.6
//  2. improvement >= 0.02
//  3. accuracy >= 0.85 and improvement >= 0.01
//  4. drop <= 0.01 and still >= 95% of current
//
// Rule 4 can accept a slightly worse model.
func (m *ModelManager) ShouldDeployModel(version string, current *Performance) (bool, string) {
	info, ok := m.Info(version)
	if !ok {
		return false, "Model version not found"
	}
	acc := info.ValidationAccuracy

	if current == nil {
		if acc >= firstDeployMinAccuracy-epsilon {
			return true, "First model deployment"
		}
		return false, fmt.Sprintf("Accuracy too low: %.3f", acc)
	}

	improvement := acc - current.Accuracy
	switch {
	case improvement >= minImprovement-epsilon:
		return true, fmt.Sprintf("Accuracy improved by %.3f", improvement)
	case acc >= highAccuracy-epsilon && improvement >= highAccuracyMinGain-epsilon:
		return true, fmt.Sprintf("High accuracy model with improvement: %.3f", acc)
	case improvement >= -maxTolerableDrop-epsilon && acc >= current.Accuracy*minRetainedRatio-epsilon:
		return true, "Performance maintained with new training data"
	default:
		return false, fmt.Sprintf("Insufficient improvement: %.3f", improvement)
	}
}

// DeployModel activates version outright or starts an experiment with it.
// An experiment without an active control model degrades to immediate.
func (m *ModelManager) DeployModel(ctx context.Context, version, strategy string) error {
	m.deployMu.Lock()
	defer m.deployMu.Unlock()

	info, ok := m.Info(version)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}

	switch strategy {
	case StrategyABTest:
		if m.ActiveVersion() == "" {
			m.logger.Info("No active model, deploying candidate immediately", zap.String("version", version))
			return m.deployImmediate(ctx, info)
		}
		return m.deployABTest(ctx, version)
	case StrategyImmediate, "":
		return m.deployImmediate(ctx, info)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
}

func (m *ModelManager) deployImmediate(ctx context.Context, info ModelInfo) error {
	if prev := m.ActiveVersion(); prev != "" && prev != info.Version {
		m.backupModel(prev)
	}

	if _, err := m.store.ActivateModelVersion(ctx, info.Version); err != nil {
		return fmt.Errorf("failed to deploy %s: %w", info.Version, err)
	}

	m.mu.Lock()
	m.active = info.Version
	m.experiment = nil
	m.mu.Unlock()

	metrics.IncDeployment(StrategyImmediate)
	metrics.SetValidationAccuracy(info.ValidationAccuracy)
	m.logger.Info("Model deployed immediately", zap.String("version", info.Version))
	return nil
}

func (m *ModelManager) deployABTest(ctx context.Context, version string) error {
	m.mu.RLock()
	split := m.trafficSplit
	m.mu.RUnlock()

	weight := int(math.Round(split * 100))
	if weight < 1 {
		weight = 1
	}
	startedAt := m.now()
	if err := m.store.SetTrafficWeight(ctx, version, weight, startedAt); err != nil {
		return fmt.Errorf("failed to start experiment for %s: %w", version, err)
	}

	m.mu.Lock()
	m.experiment = &experiment{candidate: version, weight: weight, startedAt: startedAt}
	m.mu.Unlock()

	metrics.IncDeployment(StrategyABTest)
	m.logger.Info("Experiment started",
		zap.String("candidate", version),
		zap.Int("traffic_weight", weight))
	return nil
}

// RollbackModel reactivates target when it is known. Otherwise it picks the
// most recently created version with validation accuracy >= 0.7, excluding
// the active one. Any experiment is cleared.
func (m *ModelManager) RollbackModel(ctx context.Context, target string) (string, error) {
	m.deployMu.Lock()
	defer m.deployMu.Unlock()

	chosen := m.rollbackTarget(target)
	if chosen == "" {
		return "", ErrNoStableVersion
	}

	if _, err := m.store.ActivateModelVersion(ctx, chosen); err != nil {
		return "", fmt.Errorf("failed to roll back to %s: %w", chosen, err)
	}

	m.mu.Lock()
	m.active = chosen
	m.experiment = nil
	m.mu.Unlock()

	metrics.IncRollback()
	m.logger.Info("Rolled back model", zap.String("version", chosen))
	return chosen, nil
}

func (m *ModelManager) rollbackTarget(target string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.models[target]; target != "" && ok {
		return target
	}
	if target != "" {
		m.logger.Warn("Unknown rollback target, selecting newest stable version", zap.String("target", target))
	}

	var best *ModelInfo
	for v, rm := range m.models {
		if v == m.active || rm.info.ValidationAccuracy < stableAccuracy-epsilon {
			continue
		}
		info := rm.info
		if best == nil || info.CreatedAt.After(best.CreatedAt) ||
			(info.CreatedAt.Equal(best.CreatedAt) && info.Version > best.Version) {
			best = &info
		}
	}
	if best == nil {
		return ""
	}
	return best.Version
}

// backupModel copies the artifacts of version into backups/<version>.
// Failures are logged and do not block the deployment.
func (m *ModelManager) backupModel(version string) {
	info, ok := m.Info(version)
	if !ok || m.dir == "" {
		return
	}
	dst := filepath.Join(m.dir, "backups", version)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		m.logger.Warn("Failed to create backup directory", zap.String("version", version), zap.Error(err))
		return
	}
	for _, src := range []string{info.ModelPath, info.VectorizerPath} {
		if err := copyFile(src, filepath.Join(dst, filepath.Base(src))); err != nil {
			m.logger.Warn("Failed to back up model artifact",
				zap.String("version", version), zap.String("path", src), zap.Error(err))
		}
	}
	m.logger.Info("Backed up model", zap.String("version", version))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
