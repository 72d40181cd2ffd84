// Package scheduler orchestrates alert reconciliation and delivery: it
// reacts to document changes, runs the periodic delivery sweep, and owns
// the locking discipline that keeps both safe under concurrency.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigneshrao/docwatch/internal/db"
	"github.com/vigneshrao/docwatch/internal/metrics"
	"github.com/vigneshrao/docwatch/internal/notify"
)

// SweepStore is the slice of the alert store the sweeper needs. Every
// state transition is a compare-and-swap: the bool result reports
// whether this sweep won the write, and losing is never an error.
type SweepStore interface {
	DueAlerts(ctx context.Context, now time.Time, limit int) ([]*db.DueAlert, error)
	ClaimAlert(ctx context.Context, id uuid.UUID, leaseExpiry time.Time) (bool, error)
	ReclaimAlert(ctx context.Context, id uuid.UUID, now, leaseExpiry time.Time) (bool, error)
	CompleteAlert(ctx context.Context, id uuid.UUID, leaseExpiry time.Time) (bool, error)
	FailAlert(ctx context.Context, id uuid.UUID, lastError string, final bool) (bool, error)
	MarkExhausted(ctx context.Context, id uuid.UUID) (bool, error)
}

// SweeperConfig bounds one sweep pass.
type SweeperConfig struct {
	RetryCap      int
	LeaseDuration time.Duration
	BatchSize     int
	Concurrency   int
}

// Report summarizes one sweep pass.
type Report struct {
	Due       int // alerts selected as due
	Claimed   int // leases acquired by this sweep
	Reclaimed int // expired leases taken over
	Delivered int
	Failed    int // transient failures, alert back to pending
	Exhausted int // retry cap reached, alert terminal failed
	Skipped   int // lost the claim race or cancelled underneath
}

// Sweeper runs one delivery pass: select due alerts, lease each one,
// invoke the notifier, record the outcome.
type Sweeper struct {
	store    SweepStore
	notifier notify.Notifier
	config   SweeperConfig
	logger   *zap.Logger
}

// NewSweeper creates a sweeper over the given store and notifier.
func NewSweeper(store SweepStore, notifier notify.Notifier, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if cfg.RetryCap == 0 {
		cfg.RetryCap = 3
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = 2 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 8
	}

	return &Sweeper{
		store:    store,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
	}
}

// Sweep selects every due alert as of now and processes them through a
// bounded worker pool, so one slow notifier call cannot stall the whole
// batch. Per-alert serialization comes from the store's lease CAS, not
// from the pool.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Report, error) {
	due, err := s.store.DueAlerts(ctx, now, s.config.BatchSize)
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report Report
		wg     sync.WaitGroup
	)
	report.Due = len(due)

	sem := make(chan struct{}, s.config.Concurrency)
	for _, alert := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(a *db.DueAlert) {
			defer wg.Done()
			defer func() { <-sem }()

			partial := s.process(ctx, now, a)

			mu.Lock()
			report.Claimed += partial.Claimed
			report.Reclaimed += partial.Reclaimed
			report.Delivered += partial.Delivered
			report.Failed += partial.Failed
			report.Exhausted += partial.Exhausted
			report.Skipped += partial.Skipped
			mu.Unlock()
		}(alert)
	}
	wg.Wait()

	return report, nil
}

// process handles a single due alert. Alerts arrive in one of two
// shapes: pending and due, or delivering with an expired lease (a
// crashed delivery). Both funnel into the same deliver path once the
// lease is held.
func (s *Sweeper) process(ctx context.Context, now time.Time, a *db.DueAlert) Report {
	var report Report
	leaseExpiry := now.Add(s.config.LeaseDuration)

	// attempt is the number this delivery will be if it proceeds.
	attempt := a.DeliveryAttempts + 1

	if a.State == db.StateDelivering {
		// Stale lease: the previous holder crashed or stalled. Take the
		// lease over, charging the lost attempt as a failure.
		ok, err := s.store.ReclaimAlert(ctx, a.ID, now, leaseExpiry)
		if err != nil {
			s.logger.Error("failed to reclaim alert lease", zap.Error(err), zap.String("alert_id", a.ID.String()))
			return report
		}
		if !ok {
			report.Skipped++
			return report
		}

		s.logger.Warn("reclaimed expired delivery lease",
			zap.String("alert_id", a.ID.String()),
			zap.String("document_id", a.DocumentID.String()),
			zap.Int("attempt", attempt),
		)
		metrics.RecordLeaseReclaim()
		report.Reclaimed++

		if attempt >= s.config.RetryCap {
			if _, err := s.store.MarkExhausted(ctx, a.ID); err != nil {
				s.logger.Error("failed to mark alert exhausted", zap.Error(err), zap.String("alert_id", a.ID.String()))
				return report
			}
			s.logger.Error("alert exhausted delivery retries after lease expiry",
				zap.String("alert_id", a.ID.String()),
				zap.Int("attempts", attempt),
			)
			metrics.RecordAlertExhausted()
			report.Exhausted++
			return report
		}

		// Reclaim already charged the crashed attempt; this delivery is
		// the next one.
		attempt++
	} else {
		ok, err := s.store.ClaimAlert(ctx, a.ID, leaseExpiry)
		if err != nil {
			s.logger.Error("failed to claim alert", zap.Error(err), zap.String("alert_id", a.ID.String()))
			return report
		}
		if !ok {
			// Another sweep owns it, or a reconciliation cancelled it.
			report.Skipped++
			return report
		}
		report.Claimed++
	}

	s.deliver(ctx, a, attempt, leaseExpiry, &report)
	return report
}

func (s *Sweeper) deliver(ctx context.Context, a *db.DueAlert, attempt int, leaseExpiry time.Time, report *Report) {
	delivery := &notify.Delivery{
		AlertID:      a.ID,
		DocumentID:   a.DocumentID,
		DocumentName: a.DocumentName,
		LeadTimeDays: a.LeadTimeDays,
		TriggerAt:    a.TriggerAt,
		Priority:     a.Priority,
		Channel:      a.Channel,
		Recipient:    a.Recipient,
	}

	// The notifier call must finish inside the lease window, otherwise
	// another sweep will reclaim the alert out from under us.
	deliverCtx, cancel := context.WithTimeout(ctx, s.config.LeaseDuration)
	err := s.notifier.Deliver(deliverCtx, delivery)
	cancel()

	if err != nil {
		final := attempt >= s.config.RetryCap

		ok, failErr := s.store.FailAlert(ctx, a.ID, err.Error(), final)
		if failErr != nil {
			s.logger.Error("failed to record delivery failure", zap.Error(failErr), zap.String("alert_id", a.ID.String()))
			return
		}
		if !ok {
			// Cancelled while we were delivering; the failure no longer
			// matters.
			report.Skipped++
			return
		}

		if final {
			s.logger.Error("alert exhausted delivery retries",
				zap.String("alert_id", a.ID.String()),
				zap.String("document_id", a.DocumentID.String()),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			metrics.RecordAlertExhausted()
			report.Exhausted++
		} else {
			s.logger.Warn("delivery failed, will retry",
				zap.String("alert_id", a.ID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			report.Failed++
		}
		metrics.RecordDelivery("failed", a.Channel)
		return
	}

	ok, err := s.store.CompleteAlert(ctx, a.ID, leaseExpiry)
	if err != nil {
		s.logger.Error("failed to record delivery completion", zap.Error(err), zap.String("alert_id", a.ID.String()))
		return
	}
	if !ok {
		// A reconciliation cancelled the alert mid-delivery, or another
		// sweep reclaimed the lease. Either way this completion lost and
		// is abandoned; the duplicate warning the user may have received
		// is the accepted cost of at-least-once.
		s.logger.Warn("delivery lost its lease, completion abandoned",
			zap.String("alert_id", a.ID.String()),
		)
		report.Skipped++
		return
	}

	s.logger.Info("alert delivered",
		zap.String("alert_id", a.ID.String()),
		zap.String("document_id", a.DocumentID.String()),
		zap.String("channel", a.Channel),
		zap.String("priority", a.Priority),
		zap.Int("attempt", attempt),
	)
	metrics.RecordDelivery("delivered", a.Channel)
	report.Delivered++
}
