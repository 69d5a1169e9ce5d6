package events

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/database"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(tmpDir, "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		CacheSize:    -2000,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestStore_Emit(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	event, err := store.Emit(ctx, "match.found", json.RawMessage(`{"match_id":"m-1"}`), EmitOptions{
		ResourceType: "match",
		ResourceID:   "m-1",
		TenantID:     "tenant-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, event.ID)
	require.False(t, event.Processed)

	got, err := store.Get(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, "match.found", got.EventType)
	require.JSONEq(t, `{"match_id":"m-1"}`, string(got.Payload))
	require.NotNil(t, got.ResourceType)
	require.Equal(t, "match", *got.ResourceType)
	require.NotNil(t, got.TenantID)
	require.Equal(t, "tenant-1", *got.TenantID)
	require.Nil(t, got.ProcessedAt)
}

func TestStore_Emit_Validation(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	_, err := store.Emit(ctx, "", json.RawMessage(`{}`), EmitOptions{})
	require.ErrorIs(t, err, ErrEmptyType)

	_, err = store.Emit(ctx, "match.found", nil, EmitOptions{})
	require.ErrorIs(t, err, ErrEmptyPayload)

	_, err = store.Emit(ctx, "match.found", json.RawMessage(`{not json`), EmitOptions{})
	require.ErrorIs(t, err, ErrEmptyPayload)
}

func TestStore_Get_NotFound(t *testing.T) {
	store := NewStore(testDB(t))

	_, err := store.Get(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_GetUnprocessed(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	first, err := store.Emit(ctx, "a.created", json.RawMessage(`{}`), EmitOptions{})
	require.NoError(t, err)
	second, err := store.Emit(ctx, "b.created", json.RawMessage(`{}`), EmitOptions{})
	require.NoError(t, err)

	unprocessed, err := store.GetUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 2)

	require.NoError(t, store.MarkProcessed(ctx, first.ID))

	unprocessed, err = store.GetUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	require.Equal(t, second.ID, unprocessed[0].ID)
}

func TestStore_MarkProcessed_Idempotent(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	event, err := store.Emit(ctx, "match.found", json.RawMessage(`{}`), EmitOptions{})
	require.NoError(t, err)

	require.NoError(t, store.MarkProcessed(ctx, event.ID))

	got, err := store.Get(ctx, event.ID)
	require.NoError(t, err)
	require.True(t, got.Processed)
	require.NotNil(t, got.ProcessedAt)
	firstProcessedAt := *got.ProcessedAt

	// Second call is a no-op and does not move processed_at.
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, store.MarkProcessed(ctx, event.ID))

	got, err = store.Get(ctx, event.ID)
	require.NoError(t, err)
	require.True(t, got.Processed)
	require.Equal(t, firstProcessedAt, *got.ProcessedAt)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)
	ctx := context.Background()

	old, err := store.Emit(ctx, "old.event", json.RawMessage(`{}`), EmitOptions{})
	require.NoError(t, err)
	require.NoError(t, store.MarkProcessed(ctx, old.ID))

	// Backdate the processed event past the cutoff.
	past := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	_, err = db.ExecContext(ctx, `UPDATE webhook_events SET created_at = ? WHERE id = ?`, past, old.ID)
	require.NoError(t, err)

	// An unprocessed event of the same age survives.
	stale, err := store.Emit(ctx, "stale.event", json.RawMessage(`{}`), EmitOptions{})
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `UPDATE webhook_events SET created_at = ? WHERE id = ?`, past, stale.ID)
	require.NoError(t, err)

	n, err := store.DeleteOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = store.Get(ctx, old.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, stale.ID)
	require.NoError(t, err)
}
