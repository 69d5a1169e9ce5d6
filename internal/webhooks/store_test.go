package webhooks

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

func testWebhook() *Webhook {
	now := time.Now().UTC()
	return &Webhook{
		ID:         uuid.New().String(),
		OwnerID:    "owner-1",
		URL:        "https://example.com/hooks",
		Secret:     "whsec_deadbeef",
		EventTypes: []string{"match.found"},
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	webhook := testWebhook()
	tenant := "tenant-1"
	limit := 60
	webhook.TenantID = &tenant
	webhook.RateLimit = &limit
	webhook.Headers = map[string]string{"X-Source": "relayq-test"}

	require.NoError(t, store.Create(ctx, webhook))

	got, err := store.Get(ctx, webhook.ID)
	require.NoError(t, err)
	require.Equal(t, webhook.URL, got.URL)
	require.Equal(t, webhook.Secret, got.Secret)
	require.Equal(t, []string{"match.found"}, got.EventTypes)
	require.NotNil(t, got.TenantID)
	require.Equal(t, "tenant-1", *got.TenantID)
	require.NotNil(t, got.RateLimit)
	require.Equal(t, 60, *got.RateLimit)
	require.Equal(t, "relayq-test", got.Headers["X-Source"])
	require.True(t, got.Active)
	require.Zero(t, got.TotalDeliveries)
	require.Nil(t, got.LastDeliveryAt)
}

func TestStore_GetNotFound(t *testing.T) {
	store := NewStore(testDB(t))

	_, err := store.Get(context.Background(), uuid.New().String())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_List(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	active := testWebhook()
	require.NoError(t, store.Create(ctx, active))

	inactive := testWebhook()
	inactive.Active = false
	require.NoError(t, store.Create(ctx, inactive))

	other := testWebhook()
	other.OwnerID = "owner-2"
	require.NoError(t, store.Create(ctx, other))

	all, err := store.List(ctx, "owner-1", false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	activeOnly, err := store.List(ctx, "owner-1", true)
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	require.Equal(t, active.ID, activeOnly[0].ID)
}

func TestStore_Update(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	webhook := testWebhook()
	require.NoError(t, store.Create(ctx, webhook))

	webhook.URL = "https://example.com/hooks/v2"
	webhook.EventTypes = []string{"match.*", "user.created"}
	webhook.Active = false
	require.NoError(t, store.Update(ctx, webhook))

	got, err := store.Get(ctx, webhook.ID)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/hooks/v2", got.URL)
	require.Equal(t, []string{"match.*", "user.created"}, got.EventTypes)
	require.False(t, got.Active)
	// Secret survives updates untouched.
	require.Equal(t, webhook.Secret, got.Secret)
}

func TestStore_UpdateNotFound(t *testing.T) {
	store := NewStore(testDB(t))

	webhook := testWebhook()
	require.ErrorIs(t, store.Update(context.Background(), webhook), ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	webhook := testWebhook()
	require.NoError(t, store.Create(ctx, webhook))

	deleted, err := store.Delete(ctx, webhook.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = store.Delete(ctx, webhook.ID)
	require.NoError(t, err)
	require.False(t, deleted)

	_, err = store.Get(ctx, webhook.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RecordDelivery(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	webhook := testWebhook()
	require.NoError(t, store.Create(ctx, webhook))

	at := time.Now().UTC()
	require.NoError(t, store.RecordDelivery(ctx, webhook.ID, OutcomeSuccess, at))
	require.NoError(t, store.RecordDelivery(ctx, webhook.ID, OutcomeFailure, at))
	require.NoError(t, store.RecordDelivery(ctx, webhook.ID, OutcomeTerminalFailure, at))

	got, err := store.Get(ctx, webhook.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, got.TotalDeliveries)
	require.EqualValues(t, 1, got.SuccessfulDeliveries)
	// Non-terminal failures do not count toward failed_deliveries.
	require.EqualValues(t, 1, got.FailedDeliveries)
	require.NotNil(t, got.LastDeliveryAt)
	require.NotNil(t, got.LastSuccessAt)
	require.NotNil(t, got.LastFailureAt)
}
