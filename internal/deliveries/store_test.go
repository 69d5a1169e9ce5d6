package deliveries

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
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

func testResult(status int) *Result {
	return &Result{
		RequestHeaders:  map[string]string{"Content-Type": "application/json"},
		RequestBody:     `{"event_type":"match.found"}`,
		ResponseStatus:  status,
		ResponseHeaders: map[string]string{"Server": "test"},
		ResponseBody:    "ok",
		Duration:        42 * time.Millisecond,
	}
}

func TestStore_CreateAttemptIdempotent(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	webhookID := uuid.New().String()
	eventID := uuid.New().String()

	created, err := store.CreateAttempt(ctx, webhookID, eventID)
	require.NoError(t, err)
	require.True(t, created)

	// Re-dispatching the same event is a no-op.
	created, err = store.CreateAttempt(ctx, webhookID, eventID)
	require.NoError(t, err)
	require.False(t, created)

	list, err := store.List(ctx, ListFilter{WebhookID: webhookID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 1, list[0].AttemptNumber)
	require.Equal(t, StatusPending, list[0].Status)
}

func TestStore_ClaimPending(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	webhookID := uuid.New().String()
	_, err := store.CreateAttempt(ctx, webhookID, uuid.New().String())
	require.NoError(t, err)
	_, err = store.CreateAttempt(ctx, webhookID, uuid.New().String())
	require.NoError(t, err)

	claimed, err := store.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, d := range claimed {
		require.Equal(t, StatusDelivering, d.Status)
	}

	// Nothing left to claim.
	claimed, err = store.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestStore_SuccessLifecycle(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	webhookID := uuid.New().String()
	eventID := uuid.New().String()
	_, err := store.CreateAttempt(ctx, webhookID, eventID)
	require.NoError(t, err)

	claimed, err := store.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.MarkSuccess(ctx, claimed[0].ID, testResult(200)))

	got, err := store.Get(ctx, claimed[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, got.Status)
	require.NotNil(t, got.DeliveredAt)
	require.NotNil(t, got.ResponseStatus)
	require.Equal(t, 200, *got.ResponseStatus)
	require.Equal(t, `{"event_type":"match.found"}`, got.RequestBody)
	require.NotNil(t, got.DurationMS)
	require.EqualValues(t, 42, *got.DurationMS)
}

func TestStore_RetryChain(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	webhookID := uuid.New().String()
	eventID := uuid.New().String()
	_, err := store.CreateAttempt(ctx, webhookID, eventID)
	require.NoError(t, err)

	claimed, err := store.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	first := claimed[0]

	// First attempt fails, due in the past so the sweep sees it.
	result := testResult(500)
	result.ErrorMessage = "server error: 500"
	require.NoError(t, store.MarkRetrying(ctx, first.ID, result, time.Now().Add(-time.Second)))

	due, err := store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, first.ID, due[0].ID)
	require.False(t, due[0].Deferred)

	// An executed failure spawns the next attempt; the claimed row
	// becomes history with no due time.
	next, err := store.SpawnNextAttempt(ctx, due[0])
	require.NoError(t, err)
	require.Equal(t, 2, next.AttemptNumber)
	require.Equal(t, StatusDelivering, next.Status)

	archived, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRetrying, archived.Status)
	require.Nil(t, archived.NextRetryAt)

	// Historical rows are never picked up by the sweep.
	due, err = store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, due)

	// Second attempt succeeds: exactly one terminal row in the chain.
	require.NoError(t, store.MarkSuccess(ctx, next.ID, testResult(200)))

	chain, err := store.List(ctx, ListFilter{WebhookID: webhookID, EventID: eventID})
	require.NoError(t, err)
	require.Len(t, chain, 2)

	var terminal int
	for _, d := range chain {
		if d.Status == StatusSuccess || d.Status == StatusFailed {
			terminal++
		}
	}
	require.Equal(t, 1, terminal)
}

func TestStore_ClaimDueNotBeforeBackoff(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	_, err := store.CreateAttempt(ctx, uuid.New().String(), uuid.New().String())
	require.NoError(t, err)

	claimed, err := store.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkRetrying(ctx, claimed[0].ID, testResult(503), time.Now().Add(time.Hour)))

	due, err := store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestStore_Defer(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	_, err := store.CreateAttempt(ctx, uuid.New().String(), uuid.New().String())
	require.NoError(t, err)

	claimed, err := store.ClaimPending(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, store.Defer(ctx, claimed[0].ID, time.Now().Add(-time.Second)))

	got, err := store.Get(ctx, claimed[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusRetrying, got.Status)
	require.True(t, got.Deferred)
	// Attempt number is not consumed by a deferral.
	require.Equal(t, 1, got.AttemptNumber)

	due, err := store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.True(t, due[0].Deferred)
	require.Equal(t, 1, due[0].AttemptNumber)
}

func TestStore_MarkFailedInert(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	_, err := store.CreateAttempt(ctx, uuid.New().String(), uuid.New().String())
	require.NoError(t, err)

	claimed, err := store.ClaimPending(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, store.MarkFailedInert(ctx, claimed[0].ID, "webhook deleted"))

	got, err := store.Get(ctx, claimed[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	require.Equal(t, "webhook deleted", *got.ErrorMessage)
	require.Nil(t, got.ResponseStatus)
}

func TestStore_RecoverStale(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)
	ctx := context.Background()

	_, err := store.CreateAttempt(ctx, uuid.New().String(), uuid.New().String())
	require.NoError(t, err)
	claimed, err := store.ClaimPending(ctx, 1)
	require.NoError(t, err)

	// Fresh claims are left alone.
	n, err := store.RecoverStale(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Zero(t, n)

	// Backdate the claim past the timeout.
	stale := time.Now().Add(-10 * time.Minute).UTC().Format(time.RFC3339)
	_, err = db.ExecContext(ctx, `UPDATE webhook_deliveries SET updated_at = ? WHERE id = ?`, stale, claimed[0].ID)
	require.NoError(t, err)

	n, err = store.RecoverStale(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := store.Get(ctx, claimed[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusRetrying, got.Status)
	require.True(t, got.Deferred)
	require.NotNil(t, got.NextRetryAt)
}

func TestStore_ListFilters(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	webhookA := uuid.New().String()
	webhookB := uuid.New().String()
	eventID := uuid.New().String()

	_, err := store.CreateAttempt(ctx, webhookA, eventID)
	require.NoError(t, err)
	_, err = store.CreateAttempt(ctx, webhookB, eventID)
	require.NoError(t, err)

	byWebhook, err := store.List(ctx, ListFilter{WebhookID: webhookA})
	require.NoError(t, err)
	require.Len(t, byWebhook, 1)

	byEvent, err := store.List(ctx, ListFilter{EventID: eventID})
	require.NoError(t, err)
	require.Len(t, byEvent, 2)

	byStatus, err := store.List(ctx, ListFilter{EventID: eventID, Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, byStatus, 2)

	limited, err := store.List(ctx, ListFilter{EventID: eventID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)
	ctx := context.Background()

	_, err := store.CreateAttempt(ctx, uuid.New().String(), uuid.New().String())
	require.NoError(t, err)
	claimed, err := store.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkSuccess(ctx, claimed[0].ID, testResult(200)))

	// A live pending row in the same window must survive.
	_, err = store.CreateAttempt(ctx, uuid.New().String(), uuid.New().String())
	require.NoError(t, err)

	old := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	_, err = db.ExecContext(ctx, `UPDATE webhook_deliveries SET created_at = ?`, old)
	require.NoError(t, err)

	n, err := store.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	remaining, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, StatusPending, remaining[0].Status)
}

func TestStore_DeleteOlderThanPrunesArchivedAttempts(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)
	ctx := context.Background()

	webhookID := uuid.New().String()
	eventID := uuid.New().String()
	_, err := store.CreateAttempt(ctx, webhookID, eventID)
	require.NoError(t, err)

	claimed, err := store.ClaimPending(ctx, 1)
	require.NoError(t, err)
	result := testResult(500)
	result.ErrorMessage = "server error: 500"
	require.NoError(t, store.MarkRetrying(ctx, claimed[0].ID, result, time.Now().Add(-time.Second)))

	due, err := store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	next, err := store.SpawnNextAttempt(ctx, due[0])
	require.NoError(t, err)
	require.NoError(t, store.MarkSuccess(ctx, next.ID, testResult(200)))

	// A live retry head on another chain must survive the sweep.
	_, err = store.CreateAttempt(ctx, uuid.New().String(), uuid.New().String())
	require.NoError(t, err)
	head, err := store.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkRetrying(ctx, head[0].ID, result, time.Now().Add(time.Hour)))

	old := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	_, err = db.ExecContext(ctx, `UPDATE webhook_deliveries SET created_at = ?`, old)
	require.NoError(t, err)

	// Both the terminal row and the superseded attempt-1 row go; the
	// retry head with a due time stays claimable.
	n, err := store.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	remaining, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, head[0].ID, remaining[0].ID)
	require.Equal(t, StatusRetrying, remaining[0].Status)
	require.NotNil(t, remaining[0].NextRetryAt)
}
