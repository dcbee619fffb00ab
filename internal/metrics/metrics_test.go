package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCounters(t *testing.T) {
	before := counterValue(t, deploymentsTotal.WithLabelValues("immediate"))
	IncDeployment("immediate")
	if got := counterValue(t, deploymentsTotal.WithLabelValues("immediate")); got != before+1 {
		t.Fatalf("expected deployment counter to increase by 1, got %v -> %v", before, got)
	}

	removed := counterValue(t, cleanupRemovedTotal)
	AddCleanupRemoved(0)
	AddCleanupRemoved(3)
	if got := counterValue(t, cleanupRemovedTotal); got != removed+3 {
		t.Fatalf("expected cleanup counter +3, got %v -> %v", removed, got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveCycle("success", 250*time.Millisecond)
	IncConversations()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"talentai_learning_cycles_total", "talentai_learning_conversations_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}
