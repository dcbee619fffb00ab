package feedback

import (
	"fmt"
	"sync"

	"talentai/learning/internal/models"
)

// Behavior actions reported by the request layer
const (
	ActionSessionEnd           = "session_end"
	ActionContinueConversation = "continue_conversation"
)

const (
	// seconds
	quickExit       = 5.0
	longEngagement  = 30.0
	unknownBehavior = "unknown"
)

// InferFeedback maps user behaviour to a feedback category. A quick session
// exit reads as not helpful; a follow-up, a continued conversation or long
// engagement reads as helpful. Anything else yields no feedback.
func InferFeedback(b models.BehaviorRequest) (string, bool) {
	if b.Action == ActionSessionEnd && b.Duration < quickExit {
		return models.FeedbackNotHelpful, true
	}
	if b.FollowUpQuestion || b.Action == ActionContinueConversation {
		return models.FeedbackHelpful, true
	}
	if b.Duration > longEngagement {
		return models.FeedbackHelpful, true
	}
	return "", false
}

// ImplicitComment is stored with inferred feedback.
func ImplicitComment(b models.BehaviorRequest) string {
	action := b.Action
	if action == "" {
		action = unknownBehavior
	}
	return fmt.Sprintf("Implicit feedback from behavior: %s", action)
}

// Stats is a point-in-time copy of the collector counters.
type Stats struct {
	Total    int64            `json:"total"`
	ByType   map[string]int64 `json:"by_type"`
	Ratings  map[int]int64    `json:"ratings"`
	Implicit int64            `json:"implicit"`
}

// Collector counts feedback accepted since the process started.
type Collector struct {
	mu       sync.Mutex
	total    int64
	byType   map[string]int64
	ratings  map[int]int64
	implicit int64
}

func NewCollector() *Collector {
	return &Collector{
		byType:  make(map[string]int64),
		ratings: make(map[int]int64),
	}
}

func (c *Collector) Record(feedbackType string, rating *int, implicit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	c.byType[feedbackType]++
	if rating != nil {
		c.ratings[*rating]++
	}
	if implicit {
		c.implicit++
	}
}

func (c *Collector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Total:    c.total,
		ByType:   make(map[string]int64, len(c.byType)),
		Ratings:  make(map[int]int64, len(c.ratings)),
		Implicit: c.implicit,
	}
	for k, v := range c.byType {
		s.ByType[k] = v
	}
	for k, v := range c.ratings {
		s.Ratings[k] = v
	}
	return s
}
