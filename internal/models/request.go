package models

import (
	"strings"
)

// ConversationRequest is one chat turn reported by the request layer.
type ConversationRequest struct {
	RequestID         string                 `json:"request_id,omitempty"`
	SessionID         string                 `json:"session_id"`
	UserID            *string                `json:"user_id,omitempty"`
	UserInput         string                 `json:"user_input"`
	PreprocessedInput string                 `json:"preprocessed_input"`
	PredictedIntent   string                 `json:"predicted_intent"`
	Confidence        float64                `json:"confidence"`
	Response          string                 `json:"response"`
	ResponseTime      float64                `json:"response_time"`
	Context           map[string]interface{} `json:"context,omitempty"`
	ModelVersion      string                 `json:"model_version,omitempty"`
}

// implements the Validator interface
func (r *ConversationRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return &ErrorResponse{
			Code:    "missing_session_id",
			Message: "session_id field is required",
		}
	}
	if strings.TrimSpace(r.UserInput) == "" {
		return &ErrorResponse{
			Code:    "missing_user_input",
			Message: "user_input field is required",
		}
	}
	if r.PredictedIntent == "" {
		return &ErrorResponse{
			Code:    "missing_predicted_intent",
			Message: "predicted_intent field is required",
		}
	}
	if r.PreprocessedInput == "" {
		r.PreprocessedInput = strings.ToLower(strings.TrimSpace(r.UserInput))
	}
	if r.ResponseTime < 0 {
		return &ErrorResponse{
			Code:    "invalid_response_time",
			Message: "response_time must not be negative",
		}
	}
	return nil
}

type FeedbackRequest struct {
	FeedbackType          string  `json:"feedback_type"`
	Rating                *int    `json:"rating,omitempty"`
	Comment               *string `json:"comment,omitempty"`
	CorrectedIntent       *string `json:"corrected_intent,omitempty"`
	ImprovementSuggestion *string `json:"improvement_suggestion,omitempty"`
}

func (r *FeedbackRequest) Validate() error {
	if !ValidFeedbackTypes[r.FeedbackType] {
		return &ErrorResponse{
			Code:    "invalid_feedback_type",
			Message: "feedback_type must be one of: helpful, not_helpful, correction",
		}
	}
	if r.Rating != nil && (*r.Rating < 1 || *r.Rating > 5) {
		return &ErrorResponse{
			Code:    "invalid_rating",
			Message: "rating must be between 1 and 5",
		}
	}
	if r.FeedbackType == FeedbackCorrection && (r.CorrectedIntent == nil || *r.CorrectedIntent == "") {
		return &ErrorResponse{
			Code:    "missing_corrected_intent",
			Message: "corrected_intent is required for correction feedback",
		}
	}
	return nil
}

// BehaviorRequest carries the signals used to infer feedback.
type BehaviorRequest struct {
	Action           string  `json:"action,omitempty"` // session_end | continue_conversation
	Duration         float64 `json:"duration"`         // seconds
	FollowUpQuestion bool    `json:"follow_up_question"`
}

func (r *BehaviorRequest) Validate() error {
	if r.Duration < 0 {
		return &ErrorResponse{
			Code:    "invalid_duration",
			Message: "duration must not be negative",
		}
	}
	return nil
}

type PredictRequest struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
}

func (r *PredictRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return &ErrorResponse{
			Code:    "missing_text",
			Message: "text field is required",
		}
	}
	return nil
}

type RetrainRequest struct {
	Force bool `json:"force"`
}

func (r *RetrainRequest) Validate() error { return nil }

// empty Version selects the newest stable model
type RollbackRequest struct {
	Version string `json:"version,omitempty"`
}

func (r *RollbackRequest) Validate() error { return nil }

// ConfigPatch is a partial learning configuration. Nil fields are left alone.
type ConfigPatch struct {
	AutoRetrainThreshold            *int     `json:"auto_retrain_threshold,omitempty"`
	MinFeedbackForRetraining        *int     `json:"min_feedback_for_retraining,omitempty"`
	RetrainIntervalHours            *int     `json:"retrain_interval_hours,omitempty"`
	QualityThreshold                *float64 `json:"quality_threshold,omitempty"`
	PerformanceDegradationThreshold *float64 `json:"performance_degradation_threshold,omitempty"`
	ABTestTrafficSplit              *float64 `json:"ab_test_traffic_split,omitempty"`
	RetentionDays                   *int     `json:"retention_days,omitempty"`
	MinTrainingExamples             *int     `json:"min_training_examples,omitempty"`
	RecentWindowDays                *int     `json:"recent_window_days,omitempty"`
	BaselineWindowDays              *int     `json:"baseline_window_days,omitempty"`
}

func (r *ConfigPatch) Validate() error {
	var details []ValidationErrorDetail
	positive := map[string]*int{
		"auto_retrain_threshold":      r.AutoRetrainThreshold,
		"min_feedback_for_retraining": r.MinFeedbackForRetraining,
		"retrain_interval_hours":      r.RetrainIntervalHours,
		"retention_days":              r.RetentionDays,
		"min_training_examples":       r.MinTrainingExamples,
		"recent_window_days":          r.RecentWindowDays,
		"baseline_window_days":        r.BaselineWindowDays,
	}
	for field, v := range positive {
		if v != nil && *v <= 0 {
			details = append(details, ValidationErrorDetail{Field: field, Reason: "must be positive"})
		}
	}
	unit := map[string]*float64{
		"quality_threshold":                 r.QualityThreshold,
		"performance_degradation_threshold": r.PerformanceDegradationThreshold,
		"ab_test_traffic_split":             r.ABTestTrafficSplit,
	}
	for field, v := range unit {
		if v != nil && (*v < 0 || *v > 1) {
			details = append(details, ValidationErrorDetail{Field: field, Reason: "must be between 0 and 1"})
		}
	}
	if len(details) > 0 {
		return &ErrorResponse{
			Code:    "invalid_config",
			Message: "configuration patch contains invalid values",
			Details: details,
		}
	}
	return nil
}
