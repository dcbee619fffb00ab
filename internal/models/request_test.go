package models

import (
	"testing"
)

func expectErrCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error code %s but got nil", code)
	}
	resp, ok := err.(*ErrorResponse)
	if !ok {
		t.Fatalf("expected ErrorResponse, got %T", err)
	}
	if resp.Code != code {
		t.Fatalf("expected error code %s, got %s", code, resp.Code)
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func TestErrorResponse_Error(t *testing.T) {
	err := &ErrorResponse{Message: "failed"}
	if err.Error() != "failed" {
		t.Fatalf("expected message to be returned, got %s", err.Error())
	}
}

func TestConversationRequestValidate(t *testing.T) {
	t.Run("missing session", func(t *testing.T) {
		expectErrCode(t, (&ConversationRequest{}).Validate(), "missing_session_id")
	})

	t.Run("missing input", func(t *testing.T) {
		req := &ConversationRequest{SessionID: "s1", UserInput: "   "}
		expectErrCode(t, req.Validate(), "missing_user_input")
	})

	t.Run("missing intent", func(t *testing.T) {
		req := &ConversationRequest{SessionID: "s1", UserInput: "hi"}
		expectErrCode(t, req.Validate(), "missing_predicted_intent")
	})

	t.Run("defaults preprocessed input", func(t *testing.T) {
		req := &ConversationRequest{SessionID: "s1", UserInput: "  Hello There ", PredictedIntent: "greet"}
		if err := req.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.PreprocessedInput != "hello there" {
			t.Fatalf("expected preprocessed input to default, got %q", req.PreprocessedInput)
		}
	})
}

func TestFeedbackRequestValidate(t *testing.T) {
	expectErrCode(t, (&FeedbackRequest{FeedbackType: "meh"}).Validate(), "invalid_feedback_type")
	expectErrCode(t, (&FeedbackRequest{FeedbackType: FeedbackHelpful, Rating: intPtr(6)}).Validate(), "invalid_rating")
	expectErrCode(t, (&FeedbackRequest{FeedbackType: FeedbackCorrection}).Validate(), "missing_corrected_intent")

	ok := &FeedbackRequest{FeedbackType: FeedbackCorrection, Rating: intPtr(2), CorrectedIntent: strPtr("scoring")}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestConfigPatchValidate(t *testing.T) {
	patch := &ConfigPatch{AutoRetrainThreshold: intPtr(0), ABTestTrafficSplit: floatPtr(1.5)}
	err := patch.Validate()
	expectErrCode(t, err, "invalid_config")
	if got := len(err.(*ErrorResponse).Details); got != 2 {
		t.Fatalf("expected 2 details, got %d", got)
	}

	if err := (&ConfigPatch{QualityThreshold: floatPtr(0.6)}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClampUnit(t *testing.T) {
	cases := map[float64]float64{-0.5: 0, 0.25: 0.25, 1.7: 1}
	for in, want := range cases {
		if got := ClampUnit(in); got != want {
			t.Fatalf("ClampUnit(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	if err := m.Scan([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if m["a"].(float64) != 1 {
		t.Fatalf("unexpected value %v", m["a"])
	}
	if err := m.Scan(nil); err != nil || len(m) != 0 {
		t.Fatalf("expected empty map for nil, got %v (%v)", m, err)
	}
	if err := m.Scan(42); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
