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

// conversations at or above this confidence survive retention cleanup
const highConfidenceThreshold = 0.8

const cleanupChunkSize = 500

type ConversationInput struct {
	SessionID         string
	UserID            *string
	UserInput         string
	PreprocessedInput string
	PredictedIntent   string
	Confidence        float64
	Response          string
	ResponseTime      float64
	Context           map[string]interface{}
	ModelVersion      string
}

type FeedbackInput struct {
	ConversationID        uint
	FeedbackType          string
	Rating                *int
	Comment               *string
	CorrectedIntent       *string
	ImprovementSuggestion *string
}

// TrainingCandidate is a distinct (text, intent) pair eligible for training.
// ConversationID is the newest conversation that produced the pair.
type TrainingCandidate struct {
	Text           string `json:"text"`
	Intent         string `json:"intent"`
	ConversationID uint   `json:"conversation_id"`
}

// StoreConversation persists one chat turn and returns its id.
func (s *Store) StoreConversation(ctx context.Context, in ConversationInput) (uint, error) {
	conv := &models.Conversation{
		SessionID:         in.SessionID,
		UserID:            in.UserID,
		UserInput:         in.UserInput,
		PreprocessedInput: in.PreprocessedInput,
		PredictedIntent:   in.PredictedIntent,
		Confidence:        models.ClampUnit(in.Confidence),
		Response:          in.Response,
		ResponseTime:      in.ResponseTime,
		ContextData:       models.JSONMap(in.Context),
		ModelVersion:      in.ModelVersion,
	}

	err := s.tx(ctx, func(tx *gorm.DB) error {
		return tx.Create(conv).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store conversation: %w", err)
	}

	s.logger.Debug("Stored conversation",
		zap.Uint("id", conv.ID),
		zap.String("session_id", conv.SessionID),
		zap.String("intent", conv.PredictedIntent))
	return conv.ID, nil
}

func (s *Store) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).First(&conv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %d: %w", id, err)
	}
	return &conv, nil
}

// StoreFeedback persists a feedback row. A corrected intent is written to the
// referenced conversation in the same transaction, once.
func (s *Store) StoreFeedback(ctx context.Context, in FeedbackInput) (uint, error) {
	if !models.ValidFeedbackTypes[in.FeedbackType] {
		return 0, fmt.Errorf("%w: unknown feedback type %q", ErrInvalidFeedback, in.FeedbackType)
	}
	if in.Rating != nil && (*in.Rating < 1 || *in.Rating > 5) {
		return 0, fmt.Errorf("%w: rating %d out of range 1-5", ErrInvalidFeedback, *in.Rating)
	}

	fb := &models.Feedback{
		ConversationID:        in.ConversationID,
		FeedbackType:          in.FeedbackType,
		Rating:                in.Rating,
		Comment:               in.Comment,
		CorrectedIntent:       in.CorrectedIntent,
		ImprovementSuggestion: in.ImprovementSuggestion,
	}

	err := s.tx(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Conversation{}).Where("id = ?", in.ConversationID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrConversationNotFound
		}

		if err := tx.Create(fb).Error; err != nil {
			return err
		}

		if in.CorrectedIntent != nil && *in.CorrectedIntent != "" {
			return tx.Model(&models.Conversation{}).
				Where("id = ? AND actual_intent IS NULL", in.ConversationID).
				Update("actual_intent", *in.CorrectedIntent).Error
		}
		return nil
	})
	if errors.Is(err, ErrConversationNotFound) {
		return 0, fmt.Errorf("conversation %d: %w", in.ConversationID, err)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to store feedback: %w", err)
	}

	s.logger.Debug("Stored feedback",
		zap.Uint("id", fb.ID),
		zap.Uint("conversation_id", fb.ConversationID),
		zap.String("type", fb.FeedbackType))
	return fb.ID, nil
}

// GetConversationsForTraining returns distinct (text, intent) pairs with
// confidence >= minConfidence, newest first. With requirePositive, pairs are
// kept only when they have helpful feedback, a rating of 4 or more, or no
// feedback at all. limit <= 0 means no cap.
func (s *Store) GetConversationsForTraining(ctx context.Context, minConfidence float64, requirePositive bool, limit int) ([]TrainingCandidate, error) {
	query := `
		SELECT c.preprocessed_input AS text,
		       COALESCE(c.actual_intent, c.predicted_intent) AS intent,
		       MAX(c.id) AS conversation_id
		FROM conversations c`
	args := []interface{}{}

	if requirePositive {
		query += `
		LEFT JOIN feedback f ON f.conversation_id = c.id
		WHERE c.confidence >= ? AND c.preprocessed_input <> ''
		  AND (f.feedback_type = ? OR f.rating >= 4 OR f.id IS NULL)`
		args = append(args, minConfidence, models.FeedbackHelpful)
	} else {
		query += `
		WHERE c.confidence >= ? AND c.preprocessed_input <> ''`
		args = append(args, minConfidence)
	}

	query += `
		GROUP BY c.preprocessed_input, COALESCE(c.actual_intent, c.predicted_intent)
		ORDER BY MAX(c.created_at) DESC, MAX(c.id) DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var out []TrainingCandidate
	err := s.tx(ctx, func(tx *gorm.DB) error {
		return tx.Raw(query, args...).Scan(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get conversations for training: %w", err)
	}
	return out, nil
}

// CountConversationsSince counts conversations created after since.
// A nil since counts everything.
func (s *Store) CountConversationsSince(ctx context.Context, since *time.Time) (int64, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(&models.Conversation{})
	if since != nil {
		q = q.Where("created_at > ?", *since)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}

func (s *Store) CountFeedbackSince(ctx context.Context, since *time.Time) (int64, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(&models.Feedback{})
	if since != nil {
		q = q.Where("created_at > ?", *since)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return n, nil
}

// FeedbackOutcomes returns helpful and total feedback for conversations
// served by version since the given time.
func (s *Store) FeedbackOutcomes(ctx context.Context, version string, since time.Time) (helpful int64, total int64, err error) {
	var row struct {
		Total   int64
		Helpful int64
	}
	err = s.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN f.feedback_type = ? THEN 1 ELSE 0 END), 0) AS helpful
		FROM feedback f
		JOIN conversations c ON c.id = f.conversation_id
		WHERE c.model_version = ? AND f.created_at >= ?`,
		models.FeedbackHelpful, version, since).Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get feedback outcomes for %s: %w", version, err)
	}
	return row.Helpful, row.Total, nil
}

// CleanupOldData deletes conversations older than retentionDays unless they
// have feedback or confidence >= 0.8. Training examples pointing at a removed
// conversation lose the back-reference.
func (s *Store) CleanupOldData(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	var removed int64

	err := s.tx(ctx, func(tx *gorm.DB) error {
		var ids []uint
		err := tx.Model(&models.Conversation{}).
			Where("created_at < ? AND confidence < ?", cutoff, highConfidenceThreshold).
			Where("id NOT IN (SELECT conversation_id FROM feedback)").
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}

		for start := 0; start < len(ids); start += cleanupChunkSize {
			end := start + cleanupChunkSize
			if end > len(ids) {
				end = len(ids)
			}
			chunk := ids[start:end]

			if err := tx.Model(&models.TrainingExample{}).
				Where("conversation_id IN ?", chunk).
				Update("conversation_id", nil).Error; err != nil {
				return err
			}

			res := tx.Where("id IN ?", chunk).Delete(&models.Conversation{})
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old data: %w", err)
	}

	s.logger.Info("Retention cleanup finished",
		zap.Int("retention_days", retentionDays),
		zap.Int64("removed", removed))
	return removed, nil
}

// SaveTrainingSet supersedes the current training set and inserts examples
// as the new one.
func (s *Store) SaveTrainingSet(ctx context.Context, set string, examples []models.TrainingExample) error {
	now := time.Now()
	for i := range examples {
		examples[i].TrainingSet = set
		examples[i].QualityScore = models.ClampUnit(examples[i].QualityScore)
		if examples[i].ValidationStatus == "" {
			examples[i].ValidationStatus = models.ValidationPending
		}
	}

	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&models.TrainingExample{}).
			Where("superseded_at IS NULL").
			Update("superseded_at", now).Error; err != nil {
			return err
		}
		if len(examples) == 0 {
			return nil
		}
		return tx.CreateInBatches(examples, 200).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save training set %s: %w", set, err)
	}
	return nil
}

// CurrentTrainingSet returns the examples that have not been superseded.
func (s *Store) CurrentTrainingSet(ctx context.Context) ([]models.TrainingExample, error) {
	var out []models.TrainingExample
	if err := s.db.WithContext(ctx).Where("superseded_at IS NULL").Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to get current training set: %w", err)
	}
	return out, nil
}
