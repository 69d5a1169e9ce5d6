package events

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

var (
	ErrNotFound     = errors.New("event not found")
	ErrEmptyType    = errors.New("event type must not be empty")
	ErrEmptyPayload = errors.New("event payload must be valid JSON")
)

// Store handles database operations for webhook events.
type Store struct {
	db *database.DB
}

// NewStore creates a new event store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Emit appends a new event. The event is a pure append; no webhook
// matching happens here.
func (s *Store) Emit(ctx context.Context, eventType string, payload json.RawMessage, opts EmitOptions) (*Event, error) {
	if eventType == "" {
		return nil, ErrEmptyType
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, ErrEmptyPayload
	}

	event := &Event{
		ID:        uuid.New().String(),
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if opts.ResourceType != "" {
		event.ResourceType = &opts.ResourceType
	}
	if opts.ResourceID != "" {
		event.ResourceID = &opts.ResourceID
	}
	if opts.TenantID != "" {
		event.TenantID = &opts.TenantID
	}

	query := `
		INSERT INTO webhook_events (id, event_type, payload, resource_type, resource_id, tenant_id, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		string(event.Payload),
		event.ResourceType,
		event.ResourceID,
		event.TenantID,
		event.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}

	return event, nil
}

// Get retrieves an event by ID.
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting event: %w", err)
	}

	return event, nil
}

// GetUnprocessed retrieves events awaiting fan-out, oldest first.
func (s *Store) GetUnprocessed(ctx context.Context, limit int) ([]*Event, error) {
	query := selectColumns + `
		WHERE processed = 0
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unprocessed events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// MarkProcessed flips an event to processed. Idempotent: marking an
// already-processed event is a no-op.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	query := `
		UPDATE webhook_events
		SET processed = 1, processed_at = ?
		WHERE id = ? AND processed = 0
	`

	_, err := s.db.ExecContext(ctx, query, database.Now(), id)
	if err != nil {
		return fmt.Errorf("marking event processed: %w", err)
	}

	return nil
}

// DeleteOlderThan deletes processed events older than the cutoff.
// Unprocessed events are never deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age).Format(time.RFC3339)

	query := `
		DELETE FROM webhook_events
		WHERE processed = 1 AND created_at < ?
	`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old events: %w", err)
	}

	n, _ := result.RowsAffected()
	return n, nil
}

const selectColumns = `
	SELECT id, event_type, payload, resource_type, resource_id, tenant_id, processed, processed_at, created_at
	FROM webhook_events`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var event Event
	var payload string
	var processed int
	var processedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&event.ID,
		&event.EventType,
		&payload,
		&event.ResourceType,
		&event.ResourceID,
		&event.TenantID,
		&processed,
		&processedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	event.Payload = json.RawMessage(payload)
	event.Processed = processed == 1

	if processedAt.Valid {
		t, err := time.Parse(time.RFC3339, processedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing processed_at: %w", err)
		}
		event.ProcessedAt = &t
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	event.CreatedAt = t

	return &event, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var result []*Event

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		result = append(result, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return result, nil
}
