package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/deliveries"
	"github.com/relayq/relayq/internal/events"
)

// Janitor deletes processed events and settled delivery rows (terminal
// or superseded by a later attempt) past the retention window, on a
// cron schedule.
type Janitor struct {
	cfg        *config.RetentionConfig
	events     *events.Store
	deliveries *deliveries.Store
	cron       *cron.Cron
}

// NewJanitor creates a retention janitor.
func NewJanitor(cfg *config.RetentionConfig, eventStore *events.Store, deliveryStore *deliveries.Store) *Janitor {
	return &Janitor{
		cfg:        cfg,
		events:     eventStore,
		deliveries: deliveryStore,
		cron:       cron.New(),
	}
}

// Start registers the cleanup job and begins the schedule. A disabled
// janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) error {
	if !j.cfg.Enabled {
		log.Debug().Msg("Retention janitor disabled")
		return nil
	}

	_, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		if err := j.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Retention cleanup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling retention cleanup: %w", err)
	}

	j.cron.Start()
	log.Info().
		Str("schedule", j.cfg.Schedule).
		Dur("max_age", j.cfg.MaxAge).
		Msg("Retention janitor started")

	return nil
}

// Stop halts the schedule and waits for a running cleanup to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce performs one cleanup pass. Live delivery chains and
// unprocessed events always survive.
func (j *Janitor) RunOnce(ctx context.Context) error {
	deletedDeliveries, err := j.deliveries.DeleteOlderThan(ctx, cutoffTime(j.cfg.MaxAge))
	if err != nil {
		return fmt.Errorf("pruning deliveries: %w", err)
	}

	deletedEvents, err := j.events.DeleteOlderThan(ctx, j.cfg.MaxAge)
	if err != nil {
		return fmt.Errorf("pruning events: %w", err)
	}

	if deletedDeliveries > 0 || deletedEvents > 0 {
		log.Info().
			Int64("deliveries", deletedDeliveries).
			Int64("events", deletedEvents).
			Msg("Retention cleanup completed")
	}

	return nil
}

func cutoffTime(maxAge time.Duration) time.Time {
	return time.Now().Add(-maxAge)
}
