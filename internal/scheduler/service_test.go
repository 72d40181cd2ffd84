package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigneshrao/docwatch/internal/db"
	"github.com/vigneshrao/docwatch/internal/lifecycle"
)

func newTestService(store *fakeStore, today time.Time) *Service {
	svc := New(store, &fakeNotifier{}, NewKeyMutex(), Config{}, zap.NewNop())
	svc.now = func() time.Time { return today }
	return svc
}

func changeDoc(validUntil time.Time, leadTimes []int32) *db.Document {
	return &db.Document{
		ID:         uuid.New(),
		Name:       "work-permit.pdf",
		ValidUntil: validUntil,
		LeadTimes:  leadTimes,
		Channel:    db.ChannelEmail,
		Recipient:  "hr@example.com",
	}
}

func TestService_OnDocumentChanged_CreatesPlan(t *testing.T) {
	store := newFakeStore()
	today := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(store, today)

	doc := changeDoc(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), nil)
	if err := svc.OnDocumentChanged(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	alerts, _ := store.ListAlertsByDocument(context.Background(), doc.ID)
	if len(alerts) != 5 {
		t.Fatalf("expected 5 alerts from the default lead times, got %d", len(alerts))
	}
	for _, a := range alerts {
		if a.State != db.StatePending {
			t.Errorf("alert %s state = %s, want pending", a.ID, a.State)
		}
	}
}

func TestService_OnDocumentChanged_Idempotent(t *testing.T) {
	store := newFakeStore()
	today := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(store, today)

	doc := changeDoc(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), nil)
	if err := svc.OnDocumentChanged(context.Background(), doc); err != nil {
		t.Fatalf("first change failed: %v", err)
	}

	before, _ := store.ListAlertsByDocument(context.Background(), doc.ID)

	if err := svc.OnDocumentChanged(context.Background(), doc); err != nil {
		t.Fatalf("second change failed: %v", err)
	}

	after, _ := store.ListAlertsByDocument(context.Background(), doc.ID)
	if len(after) != len(before) {
		t.Fatalf("unchanged document grew alerts: %d -> %d", len(before), len(after))
	}
	for _, a := range after {
		if a.State != db.StatePending {
			t.Errorf("alert %s state changed to %s", a.ID, a.State)
		}
	}
}

func TestService_OnDocumentChanged_InvalidLeadTimesLeavePlanIntact(t *testing.T) {
	store := newFakeStore()
	today := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(store, today)

	doc := changeDoc(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), []int32{7, 1})
	if err := svc.OnDocumentChanged(context.Background(), doc); err != nil {
		t.Fatalf("valid change failed: %v", err)
	}

	// The write that introduces a broken configuration fails whole; the
	// previously valid plan must survive untouched.
	bad := *doc
	bad.LeadTimes = []int32{7, -1}
	err := svc.OnDocumentChanged(context.Background(), &bad)
	if !errors.Is(err, lifecycle.ErrInvalidLeadTime) {
		t.Fatalf("expected ErrInvalidLeadTime, got %v", err)
	}

	alerts, _ := store.ListAlertsByDocument(context.Background(), doc.ID)
	if len(alerts) != 2 {
		t.Fatalf("previous plan damaged: expected 2 alerts, got %d", len(alerts))
	}
	for _, a := range alerts {
		if a.State != db.StatePending {
			t.Errorf("alert %s state = %s, want pending", a.ID, a.State)
		}
	}
}

func TestService_OnDocumentChanged_ValidityExtended(t *testing.T) {
	store := newFakeStore()
	today := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(store, today)

	doc := changeDoc(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), []int32{7, 1})
	if err := svc.OnDocumentChanged(context.Background(), doc); err != nil {
		t.Fatalf("initial change failed: %v", err)
	}

	// Mark the 7-day warning as already delivered before the extension.
	alerts, _ := store.ListAlertsByDocument(context.Background(), doc.ID)
	var deliveredID uuid.UUID
	for _, a := range alerts {
		if a.LeadTimeDays == 7 {
			deliveredID = a.ID
			store.mu.Lock()
			store.alerts[a.ID].State = db.StateDelivered
			store.mu.Unlock()
		}
	}

	doc.ValidUntil = time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.OnDocumentChanged(context.Background(), doc); err != nil {
		t.Fatalf("extension failed: %v", err)
	}

	alerts, _ = store.ListAlertsByDocument(context.Background(), doc.ID)

	var pending, cancelled int
	for _, a := range alerts {
		switch a.State {
		case db.StatePending:
			pending++
		case db.StateCancelled:
			cancelled++
		case db.StateDelivered:
			if a.ID != deliveredID {
				t.Errorf("unexpected delivered alert %s", a.ID)
			}
		}
	}

	// The stale 1-day warning was cancelled and recreated against the
	// new date; the delivered 7-day warning stands and keeps its slot.
	if cancelled != 1 {
		t.Fatalf("expected 1 cancelled alert, got %d", cancelled)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending alert, got %d", pending)
	}
	if got := store.getAlert(deliveredID); got.State != db.StateDelivered {
		t.Fatalf("delivered alert was retracted: state = %s", got.State)
	}
}

func TestService_OnDocumentChanged_RetriesOnConflict(t *testing.T) {
	store := newFakeStore()
	store.conflictsLeft = 2
	today := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(store, today)

	doc := changeDoc(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), []int32{7})
	if err := svc.OnDocumentChanged(context.Background(), doc); err != nil {
		t.Fatalf("expected conflicts to be retried, got %v", err)
	}

	alerts, _ := store.ListAlertsByDocument(context.Background(), doc.ID)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert after retries, got %d", len(alerts))
	}
}

func TestService_OnDocumentChanged_ConcurrentSameDocument(t *testing.T) {
	store := newFakeStore()
	today := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestService(store, today)

	doc := changeDoc(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), nil)

	// Concurrent updates to the same document are serialized by the
	// per-document lock: no lead time ends up with two live alerts.
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			d := *doc
			done <- svc.OnDocumentChanged(context.Background(), &d)
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent change failed: %v", err)
		}
	}

	alerts, _ := store.ListAlertsByDocument(context.Background(), doc.ID)
	live := make(map[int32]int)
	for _, a := range alerts {
		if a.State != db.StateCancelled {
			live[a.LeadTimeDays]++
		}
	}
	for leadTime, n := range live {
		if n != 1 {
			t.Fatalf("lead time %d has %d live alerts, want 1", leadTime, n)
		}
	}
	if len(live) != 5 {
		t.Fatalf("expected 5 live lead times, got %d", len(live))
	}
}

func TestKeyMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyMutex()
	ctx := context.Background()

	release, err := km.Acquire(ctx, "doc-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		r2, err := km.Acquire(ctx, "doc-1")
		if err != nil {
			t.Errorf("second acquire failed: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		r2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the lock is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded after release")
	}
}

func TestKeyMutex_IndependentKeys(t *testing.T) {
	km := NewKeyMutex()
	ctx := context.Background()

	r1, err := km.Acquire(ctx, "doc-1")
	if err != nil {
		t.Fatalf("acquire doc-1 failed: %v", err)
	}
	defer r1()

	// A different key must not block.
	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	r2, err := km.Acquire(ctx2, "doc-2")
	if err != nil {
		t.Fatalf("acquire doc-2 blocked on unrelated key: %v", err)
	}
	r2()
}

func TestKeyMutex_ContextCancelled(t *testing.T) {
	km := NewKeyMutex()

	release, err := km.Acquire(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := km.Acquire(ctx, "doc-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
