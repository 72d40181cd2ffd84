package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/test", 200, 100*time.Millisecond)
	RecordRequest("PUT", "/test", 200, 50*time.Millisecond)
	RecordRequest("GET", "/test", 404, 10*time.Millisecond)
}

func TestRecordReconciliation(t *testing.T) {
	RecordReconciliation(5, 0)
	RecordReconciliation(2, 2)
	RecordReconciliation(0, 0)
}

func TestRecordDelivery(t *testing.T) {
	RecordDelivery("delivered", "email")
	RecordDelivery("failed", "sms")
	RecordDelivery("exhausted", "webhook")
}

func TestRecordLeaseReclaim(t *testing.T) {
	RecordLeaseReclaim()
	RecordLeaseReclaim()
}

func TestRecordAlertExhausted(t *testing.T) {
	RecordAlertExhausted()
}

func TestObserveSweep(t *testing.T) {
	ObserveSweep(10, 250*time.Millisecond)
	ObserveSweep(0, 5*time.Millisecond)
}

func TestRecordRateLimitRejection(t *testing.T) {
	RecordRateLimitRejection("ip:1.2.3.4")
	RecordRateLimitRejection("ip:5.6.7.8")
}

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Error("Handler should not return nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if len(body) == 0 {
		t.Error("metrics response should not be empty")
	}
}

func TestMiddleware(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	handler := Middleware(inner)
	req := httptest.NewRequest("POST", "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !innerCalled {
		t.Error("inner handler should have been called")
	}

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Write([]byte("test"))

	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
