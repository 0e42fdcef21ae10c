package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(w.Result().Body)
	return w.Code, string(body)
}

func TestHandler_ExposesRecordedCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordPostCreated()
	c.RecordCommentAdded()
	c.RecordIntegrityDrift(2)

	status, body := scrape(t, Handler(reg), "/")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	for _, want := range []string{
		"blogman_posts_created_total 1",
		"blogman_comments_added_total 1",
		"blogman_integrity_drift_total 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("response should contain %q", want)
		}
	}
}

func TestHandler_LabelsHTTPStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordHTTPStatus(http.StatusTooManyRequests)

	status, body := scrape(t, Handler(reg), "/metrics")
	if status != http.StatusOK {
		t.Errorf("status = %d, want %d", status, http.StatusOK)
	}
	if !strings.Contains(body, `blogman_http_status_total{status_code="429"} 1`) {
		t.Errorf("response should contain the 429 status counter, got:\n%s", body)
	}
}
