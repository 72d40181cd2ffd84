package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigneshrao/docwatch/internal/db"
	"github.com/vigneshrao/docwatch/internal/lifecycle"
	"github.com/vigneshrao/docwatch/internal/metrics"
	"github.com/vigneshrao/docwatch/internal/notify"
)

// reconcileRetries bounds ErrConflict retries within one document change.
const reconcileRetries = 3

// Store is everything the scheduler needs from the persistent store.
type Store interface {
	SweepStore
	UpsertDocument(ctx context.Context, doc *db.Document) error
	ListAlertsByDocument(ctx context.Context, documentID uuid.UUID) ([]*db.Alert, error)
	ApplyDiff(ctx context.Context, documentID uuid.UUID, create []db.NewAlert, cancel []uuid.UUID) error
}

// Locker serializes reconciliation per document. Acquire blocks until
// the key is free or the context is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Config holds the scheduler's tunables.
type Config struct {
	DefaultLeadTimes []int32
	RetryCap         int
	SweepInterval    time.Duration
	LeaseDuration    time.Duration
	SweepBatchSize   int
	SweepConcurrency int
}

// Service wires planning, reconciliation and the delivery sweep behind
// two entry points: OnDocumentChanged for document writes and Run for
// the periodic sweep.
type Service struct {
	store   Store
	locks   Locker
	sweeper *Sweeper
	config  Config
	logger  *zap.Logger

	// now is swappable in tests; the pure lifecycle functions always
	// receive time explicitly.
	now func() time.Time
}

// New creates the scheduler service.
func New(store Store, notifier notify.Notifier, locks Locker, cfg Config, logger *zap.Logger) *Service {
	if len(cfg.DefaultLeadTimes) == 0 {
		cfg.DefaultLeadTimes = lifecycle.DefaultLeadTimes
	}
	if cfg.RetryCap == 0 {
		cfg.RetryCap = 3
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = 2 * time.Minute
	}

	sweeper := NewSweeper(store, notifier, SweeperConfig{
		RetryCap:      cfg.RetryCap,
		LeaseDuration: cfg.LeaseDuration,
		BatchSize:     cfg.SweepBatchSize,
		Concurrency:   cfg.SweepConcurrency,
	}, logger)

	return &Service{
		store:   store,
		locks:   locks,
		sweeper: sweeper,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// OnDocumentChanged recomputes and applies a document's alert plan. It
// is called on document creation and whenever validUntil or the lead
// times change.
//
// Validation happens before anything persists: an invalid lead-time
// configuration fails the whole write and the previous alert plan stays
// intact. Reconciliation is serialized per document by the lock, and a
// lost optimistic write (ErrConflict) is retried with refreshed state.
func (s *Service) OnDocumentChanged(ctx context.Context, doc *db.Document) error {
	if len(doc.LeadTimes) == 0 {
		doc.LeadTimes = s.config.DefaultLeadTimes
	}

	today := s.now()
	plan, err := lifecycle.Plan(doc, today)
	if err != nil {
		return err
	}

	release, err := s.locks.Acquire(ctx, doc.ID.String())
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.UpsertDocument(ctx, doc); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		existing, err := s.store.ListAlertsByDocument(ctx, doc.ID)
		if err != nil {
			return err
		}

		diff := lifecycle.Reconcile(plan, existing)
		if diff.Empty() {
			s.logger.Debug("alert plan unchanged",
				zap.String("document_id", doc.ID.String()),
			)
			return nil
		}

		err = s.store.ApplyDiff(ctx, doc.ID, newAlerts(diff.ToCreate), diff.ToCancel)
		if errors.Is(err, db.ErrConflict) && attempt < reconcileRetries {
			s.logger.Warn("reconciliation lost a write race, retrying",
				zap.String("document_id", doc.ID.String()),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return err
		}

		metrics.RecordReconciliation(len(diff.ToCreate), len(diff.ToCancel))
		s.logger.Info("document reconciled",
			zap.String("document_id", doc.ID.String()),
			zap.Time("valid_until", doc.ValidUntil),
			zap.Int("created", len(diff.ToCreate)),
			zap.Int("cancelled", len(diff.ToCancel)),
		)
		return nil
	}
}

// Run drives the periodic delivery sweep until the context is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("delivery sweeper started",
		zap.Duration("interval", s.config.SweepInterval),
		zap.Duration("lease", s.config.LeaseDuration),
		zap.Int("retry_cap", s.config.RetryCap),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("delivery sweeper stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Tick runs one sweep immediately; Run calls it on every interval and
// operators can trigger it out of band.
func (s *Service) Tick(ctx context.Context) (Report, error) {
	return s.sweeper.Sweep(ctx, s.now())
}

func (s *Service) tick(ctx context.Context) {
	start := time.Now()
	report, err := s.Tick(ctx)
	if err != nil {
		s.logger.Error("delivery sweep failed", zap.Error(err))
		return
	}

	metrics.ObserveSweep(report.Due, time.Since(start))

	if report.Due == 0 {
		return
	}
	s.logger.Info("delivery sweep completed",
		zap.Int("due", report.Due),
		zap.Int("claimed", report.Claimed),
		zap.Int("reclaimed", report.Reclaimed),
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", report.Failed),
		zap.Int("exhausted", report.Exhausted),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", time.Since(start)),
	)
}

func newAlerts(planned []lifecycle.PlannedAlert) []db.NewAlert {
	out := make([]db.NewAlert, len(planned))
	for i, p := range planned {
		out[i] = db.NewAlert{
			LeadTimeDays: p.LeadTimeDays,
			TriggerAt:    p.TriggerAt,
			Priority:     p.Priority,
		}
	}
	return out
}
