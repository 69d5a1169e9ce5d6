package deliveries

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relayq/relayq/internal/database"
)

var ErrNotFound = errors.New("delivery not found")

// Store handles database operations for delivery attempts.
type Store struct {
	db *database.DB
}

// NewStore creates a new delivery store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// CreateAttempt inserts the first attempt of a delivery chain as pending.
// The unique constraint on (webhook_id, event_id, attempt_number) makes
// fan-out idempotent: re-dispatching an event never produces duplicate
// rows. Returns false when the attempt already existed.
func (s *Store) CreateAttempt(ctx context.Context, webhookID, eventID string) (bool, error) {
	now := database.Now()

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO webhook_deliveries
			(id, webhook_id, event_id, attempt_number, status, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)
	`, uuid.New().String(), webhookID, eventID, StatusPending, now, now)
	if err != nil {
		return false, fmt.Errorf("creating delivery attempt: %w", err)
	}

	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ClaimPending atomically moves up to limit pending attempts to
// delivering and returns them. Each row is claimed with a compare-and-set
// so concurrent pollers never double-claim.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]*Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM webhook_deliveries
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending deliveries: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}

	return s.claim(ctx, ids, StatusPending)
}

// ClaimDue atomically claims retrying attempts whose backoff window has
// elapsed. Only the live head of each chain carries next_retry_at;
// historical rows have it cleared and are never picked up.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM webhook_deliveries
		WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?
	`, StatusRetrying, now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due deliveries: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}

	return s.claim(ctx, ids, StatusRetrying)
}

func (s *Store) claim(ctx context.Context, ids []string, from Status) ([]*Delivery, error) {
	var claimed []*Delivery

	for _, id := range ids {
		result, err := s.db.ExecContext(ctx, `
			UPDATE webhook_deliveries
			SET status = ?, next_retry_at = NULL, updated_at = ?
			WHERE id = ? AND status = ?
		`, StatusDelivering, database.Now(), id, from)
		if err != nil {
			return nil, fmt.Errorf("claiming delivery %s: %w", id, err)
		}

		n, _ := result.RowsAffected()
		if n == 0 {
			// Another worker got there first.
			continue
		}

		delivery, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, delivery)
	}

	return claimed, nil
}

// SpawnNextAttempt turns a claimed, already-executed failure into the
// next attempt of its chain: a fresh delivering row at attempt+1 is
// inserted and the claimed row goes back to retrying as history, with
// no due time. Done in one transaction so a crash never loses the claim.
func (s *Store) SpawnNextAttempt(ctx context.Context, claimed *Delivery) (*Delivery, error) {
	next := &Delivery{
		ID:            uuid.New().String(),
		WebhookID:     claimed.WebhookID,
		EventID:       claimed.EventID,
		AttemptNumber: claimed.AttemptNumber + 1,
		Status:        StatusDelivering,
	}

	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		now := database.Now()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO webhook_deliveries
				(id, webhook_id, event_id, attempt_number, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, next.ID, next.WebhookID, next.EventID, next.AttemptNumber, StatusDelivering, now, now); err != nil {
			return fmt.Errorf("inserting next attempt: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE webhook_deliveries
			SET status = ?, next_retry_at = NULL, updated_at = ?
			WHERE id = ?
		`, StatusRetrying, now, claimed.ID); err != nil {
			return fmt.Errorf("archiving claimed attempt: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, next.ID)
}

// MarkSuccess finalizes an executed attempt as delivered.
func (s *Store) MarkSuccess(ctx context.Context, id string, result *Result) error {
	return s.finalize(ctx, id, StatusSuccess, result, nil)
}

// MarkRetrying finalizes an executed failed attempt and schedules the
// chain's next due time.
func (s *Store) MarkRetrying(ctx context.Context, id string, result *Result, nextRetryAt time.Time) error {
	return s.finalize(ctx, id, StatusRetrying, result, &nextRetryAt)
}

// MarkFailed finalizes an executed attempt as a terminal failure.
func (s *Store) MarkFailed(ctx context.Context, id string, result *Result) error {
	return s.finalize(ctx, id, StatusFailed, result, nil)
}

// MarkFailedInert terminally fails an attempt that was never sent, for
// example because its webhook was deleted. Only an error message is
// recorded.
func (s *Store) MarkFailedInert(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = ?, deferred = 0, error_message = ?, next_retry_at = NULL, updated_at = ?
		WHERE id = ?
	`, StatusFailed, reason, database.Now(), id)
	if err != nil {
		return fmt.Errorf("failing delivery: %w", err)
	}
	return nil
}

// Defer reschedules a claimed attempt without executing it. The row
// keeps its attempt number and is marked deferred so the sweeper
// re-sends it rather than spawning a new attempt.
func (s *Store) Defer(ctx context.Context, id string, retryAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = ?, deferred = 1, next_retry_at = ?, updated_at = ?
		WHERE id = ?
	`, StatusRetrying, retryAt.UTC().Format(time.RFC3339), database.Now(), id)
	if err != nil {
		return fmt.Errorf("deferring delivery: %w", err)
	}
	return nil
}

func (s *Store) finalize(ctx context.Context, id string, status Status, result *Result, nextRetryAt *time.Time) error {
	reqHeaders, err := marshalHeaders(result.RequestHeaders)
	if err != nil {
		return err
	}
	respHeaders, err := marshalHeaders(result.ResponseHeaders)
	if err != nil {
		return err
	}

	var responseStatus *int
	if result.ResponseStatus != 0 {
		responseStatus = &result.ResponseStatus
	}
	var errorMessage *string
	if result.ErrorMessage != "" {
		errorMessage = &result.ErrorMessage
	}
	var deliveredAt *string
	if status == StatusSuccess {
		now := database.Now()
		deliveredAt = &now
	}
	var retryAt *string
	if nextRetryAt != nil {
		ts := nextRetryAt.UTC().Format(time.RFC3339)
		retryAt = &ts
	}

	durationMS := result.Duration.Milliseconds()

	_, err = s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = ?, deferred = 0,
			request_headers = ?, request_body = ?,
			response_status = ?, response_headers = ?, response_body = ?,
			error_message = ?, duration_ms = ?,
			next_retry_at = ?, delivered_at = ?, updated_at = ?
		WHERE id = ?
	`, status, reqHeaders, result.RequestBody,
		responseStatus, respHeaders, result.ResponseBody,
		errorMessage, durationMS,
		retryAt, deliveredAt, database.Now(), id)
	if err != nil {
		return fmt.Errorf("finalizing delivery: %w", err)
	}

	return nil
}

// RecoverStale rescues attempts stuck in pending or delivering longer
// than the claim timeout, typically after a crash. They go back to
// retrying as deferred rows, due immediately, keeping their attempt
// number since the send may never have happened.
func (s *Store) RecoverStale(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.UTC().Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = ?, deferred = 1, next_retry_at = ?, updated_at = ?
		WHERE status IN (?, ?) AND updated_at < ?
	`, StatusRetrying, database.Now(), database.Now(), StatusPending, StatusDelivering, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recovering stale deliveries: %w", err)
	}

	return result.RowsAffected()
}

// Get retrieves a delivery attempt by ID.
func (s *Store) Get(ctx context.Context, id string) (*Delivery, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	delivery, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting delivery: %w", err)
	}

	return delivery, nil
}

// List retrieves delivery attempts newest-first, filtered by webhook,
// event, and status.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Delivery, error) {
	query := selectColumns + ` WHERE 1=1`
	var args []any

	if f.WebhookID != "" {
		query += ` AND webhook_id = ?`
		args = append(args, f.WebhookID)
	}
	if f.EventID != "" {
		query += ` AND event_id = ?`
		args = append(args, f.EventID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}

	query += ` ORDER BY created_at DESC, attempt_number DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

// DeleteOlderThan removes delivery rows created before the cutoff that
// can never execute again: terminal rows, and superseded retry attempts
// (status retrying with next_retry_at cleared). Pending rows, in-flight
// rows, and retry chain heads always survive.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM webhook_deliveries
		WHERE created_at < ?
		  AND (status IN (?, ?) OR (status = ? AND next_retry_at IS NULL))
	`, cutoff.UTC().Format(time.RFC3339), StatusSuccess, StatusFailed, StatusRetrying)
	if err != nil {
		return 0, fmt.Errorf("deleting old deliveries: %w", err)
	}

	return result.RowsAffected()
}

const selectColumns = `
	SELECT id, webhook_id, event_id, attempt_number, status, deferred,
		request_headers, request_body, response_status, response_headers, response_body,
		error_message, duration_ms, next_retry_at, created_at, delivered_at, updated_at
	FROM webhook_deliveries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*Delivery, error) {
	var d Delivery
	var deferred int
	var reqHeaders, respHeaders sql.NullString
	var reqBody, respBody sql.NullString
	var nextRetryAt, deliveredAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&d.ID,
		&d.WebhookID,
		&d.EventID,
		&d.AttemptNumber,
		&d.Status,
		&deferred,
		&reqHeaders,
		&reqBody,
		&d.ResponseStatus,
		&respHeaders,
		&respBody,
		&d.ErrorMessage,
		&d.DurationMS,
		&nextRetryAt,
		&createdAt,
		&deliveredAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Deferred = deferred == 1
	d.RequestBody = reqBody.String
	d.ResponseBody = respBody.String

	if reqHeaders.Valid && reqHeaders.String != "" {
		if err := json.Unmarshal([]byte(reqHeaders.String), &d.RequestHeaders); err != nil {
			return nil, fmt.Errorf("unmarshaling request headers: %w", err)
		}
	}
	if respHeaders.Valid && respHeaders.String != "" {
		if err := json.Unmarshal([]byte(respHeaders.String), &d.ResponseHeaders); err != nil {
			return nil, fmt.Errorf("unmarshaling response headers: %w", err)
		}
	}

	var parseErr error
	if d.NextRetryAt, parseErr = parseNullTime(nextRetryAt); parseErr != nil {
		return nil, parseErr
	}
	if d.DeliveredAt, parseErr = parseNullTime(deliveredAt); parseErr != nil {
		return nil, parseErr
	}
	if d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt); parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

func scanDeliveries(rows *sql.Rows) ([]*Delivery, error) {
	var result []*Delivery

	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery row: %w", err)
		}
		result = append(result, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery rows: %w", err)
	}

	return result, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning delivery id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery ids: %w", err)
	}

	return ids, nil
}

func marshalHeaders(h map[string]string) (*string, error) {
	if len(h) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshaling headers: %w", err)
	}
	s := string(b)
	return &s, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &t, nil
}
