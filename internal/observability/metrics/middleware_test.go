package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResponseRecorderDefaultsTo200(t *testing.T) {
	recorder := NewResponseRecorder(httptest.NewRecorder())
	if recorder.Status() != http.StatusOK {
		t.Fatalf("expected default status 200, got %d", recorder.Status())
	}
	recorder.WriteHeader(http.StatusNotFound)
	if recorder.Status() != http.StatusNotFound {
		t.Fatalf("expected 404 after WriteHeader, got %d", recorder.Status())
	}
}

func TestResponseRecorderCountsBodyBytes(t *testing.T) {
	recorder := NewResponseRecorder(httptest.NewRecorder())
	if _, err := recorder.Write([]byte("chunk-one")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := recorder.Write([]byte("chunk-two")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := recorder.BytesWritten(); got != 18 {
		t.Fatalf("expected 18 body bytes, got %d", got)
	}
}

func TestHTTPMiddlewareRecordsRequest(t *testing.T) {
	recorder := NewRecorder()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	counter, err := recorder.requestsTotal.GetMetricWithLabelValues(http.MethodPost, "/upload", "201")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if testutil.ToFloat64(counter) != 1 {
		t.Fatalf("expected middleware to record the request")
	}
}
