package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Feedback categories accepted by the store (closed set)
const (
	FeedbackHelpful    = "helpful"
	FeedbackNotHelpful = "not_helpful"
	FeedbackCorrection = "correction"
)

// Training example provenance
const (
	SourceOriginal     = "original"
	SourceConversation = "conversation"
	SourceManual       = "manual"
)

// Training example validation status
const (
	ValidationPending  = "pending"
	ValidationApproved = "approved"
	ValidationRejected = "rejected"
)

// FallbackIntent is the label the classifier emits when nothing matches
const FallbackIntent = "fallback"

// ValidFeedbackTypes lists the accepted feedback categories.
var ValidFeedbackTypes = map[string]bool{
	FeedbackHelpful:    true,
	FeedbackNotHelpful: true,
	FeedbackCorrection: true,
}

// JSONMap is a free-form payload persisted as JSON text.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for json column")
	}
	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// Conversation is one chat turn. Only ActualIntent changes after insert.
type Conversation struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	SessionID         string    `gorm:"not null;index" json:"session_id"`
	UserID            *string   `json:"user_id,omitempty"`
	UserInput         string    `gorm:"type:text;not null" json:"user_input"`
	PreprocessedInput string    `gorm:"type:text" json:"preprocessed_input"`
	PredictedIntent   string    `gorm:"not null;index" json:"predicted_intent"`
	ActualIntent      *string   `json:"actual_intent,omitempty"` // set by a correction
	Confidence        float64   `gorm:"not null" json:"confidence"`
	Response          string    `gorm:"type:text;not null" json:"response"`
	ResponseTime      float64   `json:"response_time"` // seconds
	ContextData       JSONMap   `gorm:"type:text" json:"context_data"`
	ModelVersion      string    `gorm:"index" json:"model_version"`
	CreatedAt         time.Time `gorm:"index" json:"created_at"`
}

// Feedback is an explicit or inferred judgement on a single conversation.
type Feedback struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	ConversationID        uint      `gorm:"not null;index" json:"conversation_id"`
	FeedbackType          string    `gorm:"not null" json:"feedback_type"`
	Rating                *int      `json:"rating,omitempty"` // 1-5
	Comment               *string   `gorm:"type:text" json:"comment,omitempty"`
	CorrectedIntent       *string   `json:"corrected_intent,omitempty"`
	ImprovementSuggestion *string   `gorm:"type:text" json:"improvement_suggestion,omitempty"`
	CreatedAt             time.Time `gorm:"index" json:"created_at"`
}

func (Feedback) TableName() string { return "feedback" }

// TrainingExample is a curated example. Older sets are superseded, never removed.
type TrainingExample struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Text             string     `gorm:"type:text;not null" json:"text"`
	Intent           string     `gorm:"not null;index" json:"intent"`
	Source           string     `gorm:"not null" json:"source"`
	QualityScore     float64    `gorm:"not null;default:1" json:"quality_score"`
	ValidationStatus string     `gorm:"not null;default:pending" json:"validation_status"`
	ConversationID   *uint      `gorm:"index" json:"conversation_id,omitempty"`
	TrainingSet      string     `gorm:"index" json:"training_set"`
	SupersededAt     *time.Time `gorm:"index" json:"superseded_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ValidatedAt      *time.Time `json:"validated_at,omitempty"`
}

// ModelVersion tracks a trained classifier and its deployment state.
// TrafficWeight is non-zero only for the candidate of a running experiment.
type ModelVersion struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Version            string     `gorm:"uniqueIndex;not null" json:"version"`
	ModelPath          string     `gorm:"not null" json:"model_path"`
	VectorizerPath     string     `gorm:"not null" json:"vectorizer_path"`
	TrainingDataSize   int        `json:"training_data_size"`
	ValidationAccuracy float64    `json:"validation_accuracy"`
	TestAccuracy       float64    `json:"test_accuracy"`
	TrainingConfig     JSONMap    `gorm:"type:text" json:"training_config"`
	PerformanceMetrics JSONMap    `gorm:"type:text" json:"performance_metrics"`
	IsActive           bool       `gorm:"not null;default:false;index" json:"is_active"`
	TrafficWeight      int        `gorm:"not null;default:0" json:"traffic_weight"` // 0-100 percentage
	CreatedAt          time.Time  `json:"created_at"`
	DeployedAt         *time.Time `json:"deployed_at,omitempty"`
}

// LearningMetric is an append-only time series sample.
type LearningMetric struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	MetricName   string    `gorm:"not null;index" json:"metric_name"`
	MetricValue  float64   `gorm:"not null" json:"metric_value"`
	MetricData   JSONMap   `gorm:"type:text" json:"metric_data"`
	ModelVersion *string   `json:"model_version,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// AllModels is the schema migrated by the store.
func AllModels() []interface{} {
	return []interface{}{
		&Conversation{},
		&Feedback{},
		&TrainingExample{},
		&ModelVersion{},
		&LearningMetric{},
	}
}

// ClampUnit bounds v to [0,1].
func ClampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
