package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relayq/relayq/internal/database"
)

var ErrNotFound = errors.New("webhook not found")

// Store handles database operations for webhook subscriptions.
type Store struct {
	db *database.DB
}

// NewStore creates a new webhook store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new webhook.
func (s *Store) Create(ctx context.Context, webhook *Webhook) error {
	eventTypesJSON, err := json.Marshal(webhook.EventTypes)
	if err != nil {
		return fmt.Errorf("marshaling event types: %w", err)
	}

	var headersJSON *string
	if len(webhook.Headers) > 0 {
		b, err := json.Marshal(webhook.Headers)
		if err != nil {
			return fmt.Errorf("marshaling headers: %w", err)
		}
		str := string(b)
		headersJSON = &str
	}

	query := `
		INSERT INTO webhooks (id, owner_id, tenant_id, url, secret, event_types, payload_filter,
			active, rate_limit, headers, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := webhook.CreatedAt.UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, query,
		webhook.ID,
		webhook.OwnerID,
		webhook.TenantID,
		webhook.URL,
		webhook.Secret,
		string(eventTypesJSON),
		webhook.PayloadFilter,
		boolToInt(webhook.Active),
		webhook.RateLimit,
		headersJSON,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("inserting webhook: %w", database.ClassifyError(err))
	}

	return nil
}

// Get retrieves a webhook by ID.
func (s *Store) Get(ctx context.Context, id string) (*Webhook, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	webhook, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting webhook: %w", err)
	}

	return webhook, nil
}

// List retrieves webhooks for an owner, optionally limited to active ones.
func (s *Store) List(ctx context.Context, ownerID string, activeOnly bool) ([]*Webhook, error) {
	query := selectColumns + ` WHERE owner_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying webhooks: %w", err)
	}
	defer rows.Close()

	return scanWebhooks(rows)
}

// ListActive retrieves all active webhooks, for fan-out matching.
func (s *Store) ListActive(ctx context.Context) ([]*Webhook, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE active = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying active webhooks: %w", err)
	}
	defer rows.Close()

	return scanWebhooks(rows)
}

// Update persists the mutable fields of a webhook. The secret and the
// counters are never written here.
func (s *Store) Update(ctx context.Context, webhook *Webhook) error {
	eventTypesJSON, err := json.Marshal(webhook.EventTypes)
	if err != nil {
		return fmt.Errorf("marshaling event types: %w", err)
	}

	var headersJSON *string
	if len(webhook.Headers) > 0 {
		b, err := json.Marshal(webhook.Headers)
		if err != nil {
			return fmt.Errorf("marshaling headers: %w", err)
		}
		str := string(b)
		headersJSON = &str
	}

	query := `
		UPDATE webhooks
		SET url = ?, tenant_id = ?, event_types = ?, payload_filter = ?, active = ?,
			rate_limit = ?, headers = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		webhook.URL,
		webhook.TenantID,
		string(eventTypesJSON),
		webhook.PayloadFilter,
		boolToInt(webhook.Active),
		webhook.RateLimit,
		headersJSON,
		database.Now(),
		webhook.ID,
	)
	if err != nil {
		return fmt.Errorf("updating webhook: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a webhook. Returns false when no webhook existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting webhook: %w", err)
	}

	n, _ := result.RowsAffected()
	return n > 0, nil
}

// RecordDelivery updates the per-webhook delivery counters for one
// executed attempt. Increments are done in SQL so concurrent attempt
// completions never lose updates.
func (s *Store) RecordDelivery(ctx context.Context, id string, outcome DeliveryOutcome, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)

	var query string
	switch outcome {
	case OutcomeSuccess:
		query = `
			UPDATE webhooks
			SET total_deliveries = total_deliveries + 1,
				successful_deliveries = successful_deliveries + 1,
				last_delivery_at = ?, last_success_at = ?, updated_at = ?
			WHERE id = ?
		`
	case OutcomeFailure:
		query = `
			UPDATE webhooks
			SET total_deliveries = total_deliveries + 1,
				last_delivery_at = ?, last_failure_at = ?, updated_at = ?
			WHERE id = ?
		`
	case OutcomeTerminalFailure:
		query = `
			UPDATE webhooks
			SET total_deliveries = total_deliveries + 1,
				failed_deliveries = failed_deliveries + 1,
				last_delivery_at = ?, last_failure_at = ?, updated_at = ?
			WHERE id = ?
		`
	default:
		return fmt.Errorf("unknown delivery outcome: %d", outcome)
	}

	_, err := s.db.ExecContext(ctx, query, ts, ts, database.Now(), id)
	if err != nil {
		return fmt.Errorf("recording delivery: %w", err)
	}

	return nil
}

const selectColumns = `
	SELECT id, owner_id, tenant_id, url, secret, event_types, payload_filter, active,
		rate_limit, headers, total_deliveries, successful_deliveries, failed_deliveries,
		last_delivery_at, last_success_at, last_failure_at, created_at, updated_at
	FROM webhooks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row rowScanner) (*Webhook, error) {
	var w Webhook
	var eventTypesJSON string
	var headersJSON sql.NullString
	var active int
	var lastDelivery, lastSuccess, lastFailure sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&w.ID,
		&w.OwnerID,
		&w.TenantID,
		&w.URL,
		&w.Secret,
		&eventTypesJSON,
		&w.PayloadFilter,
		&active,
		&w.RateLimit,
		&headersJSON,
		&w.TotalDeliveries,
		&w.SuccessfulDeliveries,
		&w.FailedDeliveries,
		&lastDelivery,
		&lastSuccess,
		&lastFailure,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(eventTypesJSON), &w.EventTypes); err != nil {
		return nil, fmt.Errorf("unmarshaling event types: %w", err)
	}

	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &w.Headers); err != nil {
			return nil, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}

	w.Active = active == 1

	var parseErr error
	if w.LastDeliveryAt, parseErr = parseNullTime(lastDelivery); parseErr != nil {
		return nil, parseErr
	}
	if w.LastSuccessAt, parseErr = parseNullTime(lastSuccess); parseErr != nil {
		return nil, parseErr
	}
	if w.LastFailureAt, parseErr = parseNullTime(lastFailure); parseErr != nil {
		return nil, parseErr
	}

	if w.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if w.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt); parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &w, nil
}

func scanWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	var result []*Webhook

	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook row: %w", err)
		}
		result = append(result, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhook rows: %w", err)
	}

	return result, nil
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
