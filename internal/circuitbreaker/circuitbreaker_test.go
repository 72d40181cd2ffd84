package circuitbreaker

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestBreaker(maxFailures int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		Name:                "test",
		MaxFailures:         maxFailures,
		RecoveryTimeout:     recovery,
		HalfOpenMaxRequests: 1,
	}, zap.NewNop())
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := newTestBreaker(3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("expected requests allowed while closed")
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if cb.GetState() != StateClosed {
			t.Fatalf("expected closed before failure %d, got %s", i, cb.GetState())
		}
		cb.RecordFailure()
	}

	if cb.GetState() != StateOpen {
		t.Errorf("expected open after 3 failures, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Error("expected requests rejected while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed (failures not consecutive), got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ProbeAfterRecoveryTimeout(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected probe request allowed after recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("expected half-open, got %s", cb.GetState())
	}

	// Only one probe while half-open.
	if cb.Allow() {
		t.Error("expected second probe rejected")
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected probe allowed")
	}
	cb.RecordSuccess()

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("expected requests allowed after recovery")
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected probe allowed")
	}
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Errorf("expected re-opened after failed probe, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Error("expected requests rejected after failed probe")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed after reset, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("expected requests allowed after reset")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)

	cb.Allow()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.Allow() // rejected, circuit open

	stats := cb.Stats()
	if stats.Name != "test" {
		t.Errorf("expected name test, got %s", stats.Name)
	}
	if stats.State != "open" {
		t.Errorf("expected state open, got %s", stats.State)
	}
	if stats.TotalSuccesses != 1 {
		t.Errorf("expected 1 success, got %d", stats.TotalSuccesses)
	}
	if stats.TotalFailures != 2 {
		t.Errorf("expected 2 failures, got %d", stats.TotalFailures)
	}
	if stats.TotalRejected != 1 {
		t.Errorf("expected 1 rejected, got %d", stats.TotalRejected)
	}
}
