package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a document or alert does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict marks a lost optimistic write: another reconciliation got
// there first. Callers retry with refreshed state, they never treat it
// as fatal.
var ErrConflict = errors.New("store conflict")

const alertColumns = `
	id, document_id, lead_time_days, trigger_at, priority, state,
	delivery_attempts, last_error, lease_expiry, created_at, updated_at
`

// Repository handles database operations for documents and alerts.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// UpsertDocument inserts or updates the scheduler's view of a document.
// The version column is bumped on every update; expectedVersion guards
// against concurrent writers (pass 0 on insert-or-ignore-version paths).
func (r *Repository) UpsertDocument(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO documents (id, name, valid_until, lead_times, channel, recipient, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			valid_until = EXCLUDED.valid_until,
			lead_times = EXCLUDED.lead_times,
			channel = EXCLUDED.channel,
			recipient = EXCLUDED.recipient,
			version = documents.version + 1,
			updated_at = NOW()
		RETURNING version, created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		doc.ID,
		doc.Name,
		doc.ValidUntil,
		doc.LeadTimes,
		doc.Channel,
		doc.Recipient,
	).Scan(&doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	r.logger.Info("document upserted",
		zap.String("document_id", doc.ID.String()),
		zap.Time("valid_until", doc.ValidUntil),
		zap.Int64("version", doc.Version),
	)

	return nil
}

// GetDocument retrieves a document by ID.
func (r *Repository) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `
		SELECT id, name, valid_until, lead_times, channel, recipient,
		       version, created_at, updated_at
		FROM documents
		WHERE id = $1
	`

	var doc Document
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&doc.ID,
		&doc.Name,
		&doc.ValidUntil,
		&doc.LeadTimes,
		&doc.Channel,
		&doc.Recipient,
		&doc.Version,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}

	return &doc, nil
}

// ListAlertsByDocument retrieves every alert for a document, newest
// trigger first. Terminal alerts are included: history stays auditable.
func (r *Repository) ListAlertsByDocument(ctx context.Context, documentID uuid.UUID) ([]*Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE document_id = $1
		ORDER BY trigger_at DESC, lead_time_days DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// NewAlert carries the fields of an alert about to be created by a
// reconciliation; the repository fills in identity and bookkeeping.
type NewAlert struct {
	LeadTimeDays int32
	TriggerAt    time.Time
	Priority     string
}

// ApplyDiff applies a reconciliation diff for one document in a single
// transaction: either all creates and cancels land, or none do.
//
// Cancels are conditional on state: delivered and already-cancelled
// alerts are untouched even if their IDs slipped into the diff. Creates
// hit the partial unique index on (document_id, lead_time_days) for
// non-cancelled alerts; a violation means a concurrent reconciliation
// won the race and surfaces as ErrConflict.
func (r *Repository) ApplyDiff(ctx context.Context, documentID uuid.UUID, create []NewAlert, cancel []uuid.UUID) error {
	if len(create) == 0 && len(cancel) == 0 {
		return nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(cancel) > 0 {
		cancelQuery := `
			UPDATE alerts
			SET state = $1, lease_expiry = NULL, updated_at = NOW()
			WHERE id = ANY($2) AND state NOT IN ($3, $4)
		`
		if _, err := tx.Exec(ctx, cancelQuery,
			StateCancelled, cancel, StateDelivered, StateCancelled,
		); err != nil {
			return fmt.Errorf("cancel alerts: %w", err)
		}
	}

	insertQuery := `
		INSERT INTO alerts (id, document_id, lead_time_days, trigger_at, priority, state)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, p := range create {
		_, err := tx.Exec(ctx, insertQuery,
			uuid.New(), documentID, p.LeadTimeDays, p.TriggerAt, p.Priority, StatePending,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("alert for lead time %d already live: %w", p.LeadTimeDays, ErrConflict)
			}
			return fmt.Errorf("insert alert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("alert plan applied",
		zap.String("document_id", documentID.String()),
		zap.Int("created", len(create)),
		zap.Int("cancelled", len(cancel)),
	)

	return nil
}

// DueAlerts selects the alerts the sweeper should look at as of now:
// pending alerts whose trigger date has arrived, plus delivering alerts
// whose lease has expired (crashed deliveries awaiting reclaim). Highest
// priority first, longest overdue first within a priority.
func (r *Repository) DueAlerts(ctx context.Context, now time.Time, limit int) ([]*DueAlert, error) {
	query := `
		SELECT a.id, a.document_id, a.lead_time_days, a.trigger_at, a.priority, a.state,
		       a.delivery_attempts, a.last_error, a.lease_expiry, a.created_at, a.updated_at,
		       d.name, d.channel, d.recipient
		FROM alerts a
		JOIN documents d ON d.id = a.document_id
		WHERE (a.state = $1 AND a.trigger_at <= $2)
		   OR (a.state = $3 AND a.lease_expiry <= $2)
		ORDER BY CASE a.priority WHEN $4 THEN 0 WHEN $5 THEN 1 ELSE 2 END,
		         a.trigger_at ASC
		LIMIT $6
	`

	rows, err := r.db.Pool().Query(ctx, query,
		StatePending, now, StateDelivering, PriorityHigh, PriorityMedium, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*DueAlert
	for rows.Next() {
		var a DueAlert
		err := rows.Scan(
			&a.ID,
			&a.DocumentID,
			&a.LeadTimeDays,
			&a.TriggerAt,
			&a.Priority,
			&a.State,
			&a.DeliveryAttempts,
			&a.LastError,
			&a.LeaseExpiry,
			&a.CreatedAt,
			&a.UpdatedAt,
			&a.DocumentName,
			&a.Channel,
			&a.Recipient,
		)
		if err != nil {
			return nil, fmt.Errorf("scan due alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return alerts, nil
}

// ClaimAlert acquires the delivery lease on a pending alert: a single
// conditional update from pending to delivering. Exactly one of any
// number of racing sweeps sees a row affected; the rest observe false
// and skip the alert.
func (r *Repository) ClaimAlert(ctx context.Context, id uuid.UUID, leaseExpiry time.Time) (bool, error) {
	query := `
		UPDATE alerts
		SET state = $1, lease_expiry = $2, updated_at = NOW()
		WHERE id = $3 AND state = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, StateDelivering, leaseExpiry, id, StatePending)
	if err != nil {
		return false, fmt.Errorf("claim alert: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ReclaimAlert takes over a delivery whose lease expired, counting the
// crashed attempt as failed: attempts are bumped and a fresh lease is
// written, still conditionally on the old lease being expired so two
// sweeps cannot both adopt the same orphan.
func (r *Repository) ReclaimAlert(ctx context.Context, id uuid.UUID, now, leaseExpiry time.Time) (bool, error) {
	query := `
		UPDATE alerts
		SET delivery_attempts = delivery_attempts + 1,
		    last_error = 'delivery lease expired',
		    lease_expiry = $1,
		    updated_at = NOW()
		WHERE id = $2 AND state = $3 AND lease_expiry <= $4
	`

	result, err := r.db.Pool().Exec(ctx, query, leaseExpiry, id, StateDelivering, now)
	if err != nil {
		return false, fmt.Errorf("reclaim alert: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// CompleteAlert finishes a delivery: delivering to delivered, error
// cleared. Conditional on the alert still being in delivering AND still
// carrying this holder's lease — if a reconciliation cancelled it
// mid-flight, or another sweep reclaimed the lease, the update affects
// no rows and the late completion is abandoned.
func (r *Repository) CompleteAlert(ctx context.Context, id uuid.UUID, leaseExpiry time.Time) (bool, error) {
	query := `
		UPDATE alerts
		SET state = $1, last_error = NULL, lease_expiry = NULL, updated_at = NOW()
		WHERE id = $2 AND state = $3 AND lease_expiry = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, StateDelivered, id, StateDelivering, leaseExpiry)
	if err != nil {
		return false, fmt.Errorf("complete alert: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// FailAlert records a failed delivery attempt: attempts are bumped, the
// error stored, and the alert returns to pending — or, when final, moves
// to the terminal failed state for operator attention. Conditional on
// delivering, so a concurrent cancel wins here too.
func (r *Repository) FailAlert(ctx context.Context, id uuid.UUID, lastError string, final bool) (bool, error) {
	next := StatePending
	if final {
		next = StateFailed
	}

	query := `
		UPDATE alerts
		SET state = $1,
		    delivery_attempts = delivery_attempts + 1,
		    last_error = $2,
		    lease_expiry = NULL,
		    updated_at = NOW()
		WHERE id = $3 AND state = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, next, lastError, id, StateDelivering)
	if err != nil {
		return false, fmt.Errorf("fail alert: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkExhausted moves a reclaimed alert straight to failed when its
// bumped attempt count already hit the retry cap. Unlike FailAlert it
// does not touch the attempt counter: the reclaim already charged the
// crashed attempt.
func (r *Repository) MarkExhausted(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE alerts
		SET state = $1, lease_expiry = NULL, updated_at = NOW()
		WHERE id = $2 AND state = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, StateFailed, id, StateDelivering)
	if err != nil {
		return false, fmt.Errorf("mark alert exhausted: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListFailedAlerts is the operator surface: alerts whose retry cap is
// exhausted, oldest first.
func (r *Repository) ListFailedAlerts(ctx context.Context, limit, offset int) ([]*Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE state = $1
		ORDER BY trigger_at ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, StateFailed, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query failed alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// RequeueAlert puts a failed alert back into rotation with a fresh
// attempt budget. Only valid from the failed state.
func (r *Repository) RequeueAlert(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE alerts
		SET state = $1, delivery_attempts = 0, last_error = NULL, updated_at = NOW()
		WHERE id = $2 AND state = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, StatePending, id, StateFailed)
	if err != nil {
		return fmt.Errorf("requeue alert: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("alert %s is not in the failed state: %w", id, ErrConflict)
	}

	r.logger.Info("failed alert requeued", zap.String("alert_id", id.String()))

	return nil
}

func scanAlerts(rows pgx.Rows) ([]*Alert, error) {
	var alerts []*Alert
	for rows.Next() {
		var a Alert
		err := rows.Scan(
			&a.ID,
			&a.DocumentID,
			&a.LeadTimeDays,
			&a.TriggerAt,
			&a.Priority,
			&a.State,
			&a.DeliveryAttempts,
			&a.LastError,
			&a.LeaseExpiry,
			&a.CreatedAt,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return alerts, nil
}
