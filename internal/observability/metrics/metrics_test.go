package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/stream/9f86d081884c7d659a2feaa0c55ad015/resolutions", "/stream/:id/resolutions"},
		{"/thumbnails/abc123def", "/thumbnails/:id"},
		{"/upload/", "/upload"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.input); got != tc.expected {
			t.Fatalf("normalizePath(%q) = %q, expected %q", tc.input, got, tc.expected)
		}
	}
}

func TestObserveRequestCounts(t *testing.T) {
	recorder := NewRecorder()
	recorder.ObserveRequest(http.MethodGet, "/stream/9f86d081884c7d659a2feaa0c55ad015", http.StatusFound, 25*time.Millisecond)
	recorder.ObserveRequest(http.MethodGet, "/stream/aaaabbbbccccddddeeeeffff00001111", http.StatusFound, 30*time.Millisecond)

	counter, err := recorder.requestsTotal.GetMetricWithLabelValues(http.MethodGet, "/stream/:id", "302")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if got := testutil.ToFloat64(counter); got != 2 {
		t.Fatalf("expected 2 requests collapsed onto one path label, got %v", got)
	}
}

func TestObserveProviderUploadOutcomes(t *testing.T) {
	recorder := NewRecorder()
	recorder.ObserveProviderUpload("streamtape", nil, time.Second)
	recorder.ObserveProviderUpload("streamtape", errors.New("boom"), time.Second)
	recorder.ObserveProviderUpload("doodstream", nil, time.Second)

	success, err := recorder.providerUploads.GetMetricWithLabelValues("streamtape", "success")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	failure, err := recorder.providerUploads.GetMetricWithLabelValues("streamtape", "failure")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if testutil.ToFloat64(success) != 1 || testutil.ToFloat64(failure) != 1 {
		t.Fatalf("unexpected outcome counts: success=%v failure=%v",
			testutil.ToFloat64(success), testutil.ToFloat64(failure))
	}
}

func TestQueueDepthGauge(t *testing.T) {
	recorder := NewRecorder()
	recorder.SetQueueDepth(3)
	if got := testutil.ToFloat64(recorder.queueDepth); got != 3 {
		t.Fatalf("expected queue depth 3, got %v", got)
	}
	recorder.SetQueueDepth(0)
	if got := testutil.ToFloat64(recorder.queueDepth); got != 0 {
		t.Fatalf("expected queue depth 0, got %v", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	recorder := NewRecorder()
	recorder.ObserveQueueJob("uploaded")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	response := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(response, req)

	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	body := response.Body.String()
	if !containsMetric(body, "vidvault_channel_queue_jobs_total") {
		t.Fatalf("exposition missing queue counter:\n%s", body)
	}
}

func containsMetric(body, name string) bool {
	for _, line := range splitLines(body) {
		if len(line) >= len(name) && line[:len(name)] == name {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	lines := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
