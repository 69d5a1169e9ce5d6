package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/deliveries"
	"github.com/relayq/relayq/internal/events"
)

func TestJanitor_RunOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	janitor := NewJanitor(&config.RetentionConfig{
		Enabled:  true,
		Schedule: "0 * * * *",
		MaxAge:   24 * time.Hour,
	}, env.events, env.deliveries)

	// An old processed event with an old terminal delivery.
	event, err := env.events.Emit(ctx, "match.found", json.RawMessage(`{}`), events.EmitOptions{})
	require.NoError(t, err)
	require.NoError(t, env.events.MarkProcessed(ctx, event.ID))

	created, err := env.deliveries.CreateAttempt(ctx, uuid.New().String(), event.ID)
	require.NoError(t, err)
	require.True(t, created)
	claimed, err := env.deliveries.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, env.deliveries.MarkSuccess(ctx, claimed[0].ID, &deliveries.Result{ResponseStatus: 200}))

	// A recent event that must survive.
	fresh, err := env.events.Emit(ctx, "match.found", json.RawMessage(`{}`), events.EmitOptions{})
	require.NoError(t, err)

	old := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	_, err = env.db.ExecContext(ctx, `UPDATE webhook_events SET created_at = ? WHERE id = ?`, old, event.ID)
	require.NoError(t, err)
	_, err = env.db.ExecContext(ctx, `UPDATE webhook_deliveries SET created_at = ?`, old)
	require.NoError(t, err)

	require.NoError(t, janitor.RunOnce(ctx))

	_, err = env.events.Get(ctx, event.ID)
	require.ErrorIs(t, err, events.ErrNotFound)

	kept, err := env.events.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, fresh.ID, kept.ID)

	remaining, err := env.deliveries.List(ctx, deliveries.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestJanitor_DisabledIsNoOp(t *testing.T) {
	env := newTestEnv(t)

	janitor := NewJanitor(&config.RetentionConfig{Enabled: false}, env.events, env.deliveries)
	require.NoError(t, janitor.Start(context.Background()))
	janitor.Stop()
}
