package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"talentai/learning/internal/models"

	"gorm.io/gorm"
)

const (
	trendWindowDays      = 30
	intentPerfWindowDays = 7
	dailyTrendDateLayout = "2006-01-02"
)

type FeedbackSummary struct {
	Count     int64    `json:"count"`
	AvgRating *float64 `json:"avg_rating,omitempty"`
}

// PerformanceMetrics aggregates live behaviour over a trailing window.
// Accuracy is only set when at least one conversation was corrected.
type PerformanceMetrics struct {
	WindowDays         int                        `json:"window_days"`
	TotalConversations int64                      `json:"total_conversations"`
	AvgConfidence      float64                    `json:"avg_confidence"`
	IntentCounts       map[string]int64           `json:"intent_counts"`
	Feedback           map[string]FeedbackSummary `json:"feedback"`
	CorrectedCount     int64                      `json:"corrected_count"`
	CorrectPredictions int64                      `json:"correct_predictions"`
	Accuracy           *float64                   `json:"accuracy,omitempty"`
}

type DailyTrend struct {
	Date          string  `json:"date"`
	Conversations int64   `json:"conversations"`
	AvgConfidence float64 `json:"avg_confidence"`
	FallbackCount int64   `json:"fallback_count"`
}

type IntentPerformance struct {
	Intent           string  `json:"intent"`
	Frequency        int64   `json:"frequency"`
	AvgConfidence    float64 `json:"avg_confidence"`
	PositiveFeedback int64   `json:"positive_feedback"`
	TotalFeedback    int64   `json:"total_feedback"`
}

type LearningInsights struct {
	DailyTrends       []DailyTrend        `json:"daily_trends"`
	IntentPerformance []IntentPerformance `json:"intent_performance"`
}

func (s *Store) GetModelPerformanceMetrics(ctx context.Context, windowDays int) (*PerformanceMetrics, error) {
	since := time.Now().AddDate(0, 0, -windowDays)
	pm := &PerformanceMetrics{
		WindowDays:   windowDays,
		IntentCounts: map[string]int64{},
		Feedback:     map[string]FeedbackSummary{},
	}

	err := s.tx(ctx, func(tx *gorm.DB) error {
		var totals struct {
			Total         int64
			AvgConfidence float64
		}
		if err := tx.Raw(`
			SELECT COUNT(*) AS total, COALESCE(AVG(confidence), 0) AS avg_confidence
			FROM conversations WHERE created_at >= ?`, since).Scan(&totals).Error; err != nil {
			return err
		}
		pm.TotalConversations = totals.Total
		pm.AvgConfidence = totals.AvgConfidence

		var intents []struct {
			Intent string
			Count  int64
		}
		if err := tx.Raw(`
			SELECT predicted_intent AS intent, COUNT(*) AS count
			FROM conversations WHERE created_at >= ?
			GROUP BY predicted_intent`, since).Scan(&intents).Error; err != nil {
			return err
		}
		for _, row := range intents {
			pm.IntentCounts[row.Intent] = row.Count
		}

		var feedback []struct {
			FeedbackType string
			Count        int64
			AvgRating    *float64
		}
		if err := tx.Raw(`
			SELECT feedback_type, COUNT(*) AS count, AVG(rating) AS avg_rating
			FROM feedback WHERE created_at >= ?
			GROUP BY feedback_type`, since).Scan(&feedback).Error; err != nil {
			return err
		}
		for _, row := range feedback {
			pm.Feedback[row.FeedbackType] = FeedbackSummary{Count: row.Count, AvgRating: row.AvgRating}
		}

		var corrected struct {
			Corrected int64
			Correct   int64
		}
		if err := tx.Raw(`
			SELECT COUNT(*) AS corrected,
			       COALESCE(SUM(CASE WHEN predicted_intent = actual_intent THEN 1 ELSE 0 END), 0) AS correct
			FROM conversations
			WHERE created_at >= ? AND actual_intent IS NOT NULL`, since).Scan(&corrected).Error; err != nil {
			return err
		}
		pm.CorrectedCount = corrected.Corrected
		pm.CorrectPredictions = corrected.Correct
		if corrected.Corrected > 0 {
			acc := float64(corrected.Correct) / float64(corrected.Corrected)
			pm.Accuracy = &acc
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get performance metrics: %w", err)
	}
	return pm, nil
}

// GetLearningInsights returns a 30 day daily trend and 7 day per-intent
// performance.
func (s *Store) GetLearningInsights(ctx context.Context) (*LearningInsights, error) {
	now := time.Now()
	insights := &LearningInsights{
		DailyTrends:       []DailyTrend{},
		IntentPerformance: []IntentPerformance{},
	}

	err := s.tx(ctx, func(tx *gorm.DB) error {
		var rows []struct {
			CreatedAt       time.Time
			Confidence      float64
			PredictedIntent string
		}
		if err := tx.Model(&models.Conversation{}).
			Select("created_at", "confidence", "predicted_intent").
			Where("created_at >= ?", now.AddDate(0, 0, -trendWindowDays)).
			Scan(&rows).Error; err != nil {
			return err
		}

		// grouped in Go so the day boundary is the same on every driver
		byDay := map[string]*DailyTrend{}
		sums := map[string]float64{}
		for _, row := range rows {
			day := row.CreatedAt.Format(dailyTrendDateLayout)
			trend, ok := byDay[day]
			if !ok {
				trend = &DailyTrend{Date: day}
				byDay[day] = trend
			}
			trend.Conversations++
			sums[day] += row.Confidence
			if row.PredictedIntent == models.FallbackIntent {
				trend.FallbackCount++
			}
		}
		for day, trend := range byDay {
			trend.AvgConfidence = sums[day] / float64(trend.Conversations)
			insights.DailyTrends = append(insights.DailyTrends, *trend)
		}
		sort.Slice(insights.DailyTrends, func(i, j int) bool {
			return insights.DailyTrends[i].Date < insights.DailyTrends[j].Date
		})

		return tx.Raw(`
			SELECT c.predicted_intent AS intent,
			       COUNT(DISTINCT c.id) AS frequency,
			       COALESCE(AVG(c.confidence), 0) AS avg_confidence,
			       COALESCE(SUM(CASE WHEN f.feedback_type = ? THEN 1 ELSE 0 END), 0) AS positive_feedback,
			       COUNT(f.id) AS total_feedback
			FROM conversations c
			LEFT JOIN feedback f ON f.conversation_id = c.id
			WHERE c.created_at >= ?
			GROUP BY c.predicted_intent
			ORDER BY frequency DESC, intent ASC`,
			models.FeedbackHelpful, now.AddDate(0, 0, -intentPerfWindowDays)).
			Scan(&insights.IntentPerformance).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get learning insights: %w", err)
	}
	return insights, nil
}

func (s *Store) RecordMetric(ctx context.Context, name string, value float64, data models.JSONMap, version *string) error {
	metric := &models.LearningMetric{
		MetricName:   name,
		MetricValue:  value,
		MetricData:   data,
		ModelVersion: version,
	}
	err := s.tx(ctx, func(tx *gorm.DB) error {
		return tx.Create(metric).Error
	})
	if err != nil {
		return fmt.Errorf("failed to record metric %s: %w", name, err)
	}
	return nil
}

// LatestMetric returns nil when no sample named name exists.
func (s *Store) LatestMetric(ctx context.Context, name string) (*models.LearningMetric, error) {
	var found []models.LearningMetric
	err := s.db.WithContext(ctx).
		Where("metric_name = ?", name).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get latest metric %s: %w", name, err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}
