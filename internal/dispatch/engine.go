// Package dispatch runs the delivery engine: fan-out of captured events
// to matching webhooks, a worker pool that executes attempts, and the
// retry sweep that re-claims failed work.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/deliveries"
	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/metrics"
	"github.com/relayq/relayq/internal/transport"
	"github.com/relayq/relayq/internal/webhooks"
)

// Engine owns the dispatch and sweep loops plus the shared worker pool.
// Delivery tunables are read through an atomic snapshot so a config
// reload takes effect on the next cycle without a restart; only the
// worker pool size is fixed at construction.
type Engine struct {
	cfg        atomic.Pointer[config.DeliveryConfig]
	webhooks   *webhooks.Service
	whStore    *webhooks.Store
	events     *events.Store
	deliveries *deliveries.Store
	sender     *transport.Sender
	limiter    *transport.LimiterRegistry

	// slots bounds the number of concurrent delivery executions.
	slots  chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewEngine wires a delivery engine. Start must be called before it
// does any work.
func NewEngine(
	cfg *config.DeliveryConfig,
	webhookService *webhooks.Service,
	webhookStore *webhooks.Store,
	eventStore *events.Store,
	deliveryStore *deliveries.Store,
	sender *transport.Sender,
	limiter *transport.LimiterRegistry,
) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}

	e := &Engine{
		webhooks:   webhookService,
		whStore:    webhookStore,
		events:     eventStore,
		deliveries: deliveryStore,
		sender:     sender,
		limiter:    limiter,
		slots:      make(chan struct{}, workers),
	}
	e.cfg.Store(cfg)

	return e
}

// UpdateConfig swaps the delivery tunables. Running cycles finish with
// the old values; everything after picks up the new ones. The worker
// pool size does not change.
func (e *Engine) UpdateConfig(next *config.DeliveryConfig) {
	e.cfg.Store(next)
	log.Info().
		Int("max_attempts", next.MaxAttempts).
		Dur("dispatch_interval", next.DispatchInterval).
		Dur("sweep_interval", next.SweepInterval).
		Msg("Delivery tuning updated")
}

func (e *Engine) config() *config.DeliveryConfig {
	return e.cfg.Load()
}

// Start launches the dispatch and sweep loops. They run until Stop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)
	go e.dispatchLoop(ctx)
	go e.sweepLoop(ctx)

	cfg := e.config()
	log.Info().
		Int("workers", cap(e.slots)).
		Dur("dispatch_interval", cfg.DispatchInterval).
		Dur("sweep_interval", cfg.SweepInterval).
		Msg("Delivery engine started")
}

// Stop halts the loops and waits for in-flight deliveries to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	log.Info().Msg("Delivery engine stopped")
}

func (e *Engine) dispatchLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.config().DispatchInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.dispatchOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Dispatch cycle failed")
			}
			if next := e.config().DispatchInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.config().SweepInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.sweepOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Sweep cycle failed")
			}
			if next := e.config().SweepInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// dispatchOnce fans out a batch of unprocessed events and hands the
// resulting pending attempts to the worker pool.
func (e *Engine) dispatchOnce(ctx context.Context) error {
	cfg := e.config()

	unprocessed, err := e.events.GetUnprocessed(ctx, cfg.DispatchBatch)
	if err != nil {
		return err
	}

	if len(unprocessed) > 0 {
		active, err := e.whStore.ListActive(ctx)
		if err != nil {
			return err
		}

		for _, event := range unprocessed {
			matched := 0
			for _, webhook := range active {
				if !e.webhooks.Matches(webhook, event) {
					continue
				}
				created, err := e.deliveries.CreateAttempt(ctx, webhook.ID, event.ID)
				if err != nil {
					return err
				}
				if created {
					matched++
					metrics.RecordEventFannedOut()
				}
			}

			if err := e.events.MarkProcessed(ctx, event.ID); err != nil {
				return err
			}

			log.Debug().
				Str("event_id", event.ID).
				Str("event_type", event.EventType).
				Int("webhooks", matched).
				Msg("Event dispatched")
		}
	}

	claimed, err := e.deliveries.ClaimPending(ctx, cfg.DispatchBatch)
	if err != nil {
		return err
	}

	for _, delivery := range claimed {
		e.run(ctx, delivery)
	}

	return nil
}

// sweepOnce recovers abandoned claims, then re-claims due retries. A
// claimed row that was executed before spawns the next attempt of its
// chain; a deferred row is re-sent as the same attempt.
func (e *Engine) sweepOnce(ctx context.Context) error {
	cfg := e.config()

	recovered, err := e.deliveries.RecoverStale(ctx, time.Now().Add(-cfg.ClaimTimeout))
	if err != nil {
		return err
	}
	if recovered > 0 {
		metrics.RecordSweepRecoveries(int(recovered))
		log.Warn().Int64("count", recovered).Msg("Recovered abandoned delivery claims")
	}

	claimed, err := e.deliveries.ClaimDue(ctx, time.Now(), cfg.SweepBatch)
	if err != nil {
		return err
	}
	if len(claimed) > 0 {
		metrics.RecordSweepClaims(len(claimed))
	}

	for _, delivery := range claimed {
		if delivery.Deferred {
			e.run(ctx, delivery)
			continue
		}

		next, err := e.deliveries.SpawnNextAttempt(ctx, delivery)
		if err != nil {
			return err
		}
		e.run(ctx, next)
	}

	return nil
}

// run executes a claimed delivery on the worker pool, blocking when all
// slots are busy so claims never pile up faster than they are worked.
func (e *Engine) run(ctx context.Context, delivery *deliveries.Delivery) {
	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.slots }()

		e.execute(ctx, delivery)
	}()
}
