package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
)

type pendingRequestRepository struct {
	db *sqlx.DB
}

func NewPendingRequestRepository(db *sqlx.DB) PendingRequestRepository {
	return &pendingRequestRepository{
		db: db,
	}
}

// Enqueue inserts a pending request unless one already exists for
// (client_id, key). The existing row is returned unchanged, whatever its
// status: re-submission never resets finalized work.
func (r *pendingRequestRepository) Enqueue(clientID, key string, typ models.PendingRequestType, data json.RawMessage, scheduledAt time.Time) (*models.PendingRequest, error) {
	insert := `
		INSERT INTO pending_requests (client_id, key, type, data, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (client_id, key) DO NOTHING
	`

	now := time.Now()
	if _, err := r.db.Exec(insert, clientID, key, typ, data, models.RequestStatusPending, scheduledAt, now); err != nil {
		return nil, fmt.Errorf("failed to enqueue pending request: %w", err)
	}

	var req models.PendingRequest
	query := `
		SELECT id, client_id, key, type, data, status, error, reason, scheduled_at, attempts, next_attempt_at, created_at, updated_at
		FROM pending_requests
		WHERE client_id = $1 AND key = $2
	`
	if err := r.db.Get(&req, query, clientID, key); err != nil {
		return nil, fmt.Errorf("failed to load pending request after enqueue: %w", err)
	}

	return &req, nil
}

// MarkSuccess finalizes a PENDING request as SUCCESS. Finalized rows are
// left untouched; an unknown key is reported as not found.
func (r *pendingRequestRepository) MarkSuccess(clientID, key string) error {
	return r.finalize(clientID, key, models.RequestStatusSuccess, nil, nil)
}

// MarkFailed finalizes a PENDING request as FAILED with an error and reason.
func (r *pendingRequestRepository) MarkFailed(clientID, key, errMsg, reason string) error {
	return r.finalize(clientID, key, models.RequestStatusFailed, &errMsg, &reason)
}

func (r *pendingRequestRepository) finalize(clientID, key string, status models.PendingRequestStatus, errMsg, reason *string) error {
	query := `
		UPDATE pending_requests
		SET status = $3, error = $4, reason = $5, updated_at = $6
		WHERE client_id = $1 AND key = $2 AND status = $7
	`

	var errVal, reasonVal sql.NullString
	if errMsg != nil {
		errVal = sql.NullString{String: *errMsg, Valid: true}
	}
	if reason != nil {
		reasonVal = sql.NullString{String: *reason, Valid: true}
	}

	res, err := r.db.Exec(query, clientID, key, status, errVal, reasonVal, time.Now(), models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("failed to finalize pending request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Either the key is unknown or the request is already finalized.
	var exists bool
	if err := r.db.Get(&exists, `SELECT EXISTS (SELECT 1 FROM pending_requests WHERE client_id = $1 AND key = $2)`, clientID, key); err != nil {
		return fmt.Errorf("failed to check pending request existence: %w", err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return nil
}

// Reschedule records a failed attempt and pushes the next try into the
// future. Only PENDING rows move.
func (r *pendingRequestRepository) Reschedule(clientID, key string, attempts int, nextAttemptAt time.Time) error {
	query := `
		UPDATE pending_requests
		SET attempts = $3, next_attempt_at = $4, updated_at = $5
		WHERE client_id = $1 AND key = $2 AND status = $6
	`

	res, err := r.db.Exec(query, clientID, key, attempts, nextAttemptAt, time.Now(), models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("failed to reschedule pending request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListPending returns the tenant's PENDING requests in creation order,
// optionally filtered by type.
func (r *pendingRequestRepository) ListPending(clientID string, typ *models.PendingRequestType) ([]*models.PendingRequest, error) {
	query := `
		SELECT id, client_id, key, type, data, status, error, reason, scheduled_at, attempts, next_attempt_at, created_at, updated_at
		FROM pending_requests
		WHERE client_id = $1 AND status = $2
	`
	args := []interface{}{clientID, models.RequestStatusPending}

	if typ != nil {
		query += ` AND type = $3`
		args = append(args, *typ)
	}
	query += ` ORDER BY created_at ASC`

	var requests []*models.PendingRequest
	if err := r.db.Select(&requests, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}

	return requests, nil
}

// ListPendingByKeyPrefix returns the tenant's PENDING requests whose key
// starts with the given prefix (used for campaign-scoped cancellation).
func (r *pendingRequestRepository) ListPendingByKeyPrefix(clientID, keyPrefix string) ([]*models.PendingRequest, error) {
	query := `
		SELECT id, client_id, key, type, data, status, error, reason, scheduled_at, attempts, next_attempt_at, created_at, updated_at
		FROM pending_requests
		WHERE client_id = $1 AND status = $2 AND key LIKE $3
		ORDER BY created_at ASC
	`

	var requests []*models.PendingRequest
	if err := r.db.Select(&requests, query, clientID, models.RequestStatusPending, keyPrefix+"%"); err != nil {
		return nil, fmt.Errorf("failed to list pending requests by prefix: %w", err)
	}

	return requests, nil
}

// ListDue returns PENDING requests whose scheduled instant and retry
// backoff have both elapsed, oldest first across all tenants.
func (r *pendingRequestRepository) ListDue(now time.Time, limit int) ([]*models.PendingRequest, error) {
	query := `
		SELECT id, client_id, key, type, data, status, error, reason, scheduled_at, attempts, next_attempt_at, created_at, updated_at
		FROM pending_requests
		WHERE status = $1
		  AND scheduled_at <= $2
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY created_at ASC
		LIMIT $3
	`

	var requests []*models.PendingRequest
	if err := r.db.Select(&requests, query, models.RequestStatusPending, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due requests: %w", err)
	}

	return requests, nil
}

// NextDeadline returns the earliest future instant at which any PENDING
// request becomes due. Tenants in excludeClients are skipped: their work
// is gated on a session that is not ready, and the ready event wakes the
// loop for them instead. ok is false when nothing qualifies.
func (r *pendingRequestRepository) NextDeadline(now time.Time, excludeClients []string) (time.Time, bool, error) {
	if excludeClients == nil {
		excludeClients = []string{}
	}

	query := `
		SELECT MIN(GREATEST(scheduled_at, COALESCE(next_attempt_at, scheduled_at)))
		FROM pending_requests
		WHERE status = $1
		  AND client_id <> ALL($2)
	`

	var deadline sql.NullTime
	if err := r.db.Get(&deadline, query, models.RequestStatusPending, pq.Array(excludeClients)); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to compute next deadline: %w", err)
	}
	if !deadline.Valid {
		return time.Time{}, false, nil
	}
	if deadline.Time.Before(now) {
		return now, true, nil
	}
	return deadline.Time, true, nil
}

// FailAllPending finalizes every PENDING request of a tenant, returning the
// number of rows moved. Used when the tenant's session is lost.
func (r *pendingRequestRepository) FailAllPending(clientID, errMsg, reason string) (int64, error) {
	query := `
		UPDATE pending_requests
		SET status = $2, error = $3, reason = $4, updated_at = $5
		WHERE client_id = $1 AND status = $6
	`

	res, err := r.db.Exec(query, clientID, models.RequestStatusFailed, errMsg, reason, time.Now(), models.RequestStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to fail pending requests: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}
