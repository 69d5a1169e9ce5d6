package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relayq/relayq/internal/deliveries"
	"github.com/relayq/relayq/internal/metrics"
	"github.com/relayq/relayq/internal/transport"
	"github.com/relayq/relayq/internal/webhooks"
)

// Delivery attempt outcomes as reported to metrics.
const (
	outcomeSuccess  = "success"
	outcomeRetrying = "retrying"
	outcomeFailed   = "failed"
	outcomeDeferred = "deferred"
	outcomeSkipped  = "skipped"
)

// execute performs one claimed delivery attempt end to end: activity
// checks, rate limiting, the signed send, and the resulting state
// transition with its stats fold-in.
func (e *Engine) execute(ctx context.Context, delivery *deliveries.Delivery) {
	cfg := e.config()
	logger := log.With().
		Str("delivery_id", delivery.ID).
		Str("webhook_id", delivery.WebhookID).
		Str("event_id", delivery.EventID).
		Int("attempt", delivery.AttemptNumber).
		Logger()

	webhook, err := e.whStore.Get(ctx, delivery.WebhookID)
	if err != nil {
		if errors.Is(err, webhooks.ErrNotFound) {
			// The subscription is gone; the chain ends here without
			// touching any counters.
			if err := e.deliveries.MarkFailedInert(ctx, delivery.ID, "webhook deleted"); err != nil {
				logger.Error().Err(err).Msg("Failed to finalize orphaned delivery")
			}
			e.limiter.Forget(delivery.WebhookID)
			metrics.RecordDeliveryOutcome(outcomeSkipped, 0)
			logger.Info().Msg("Delivery dropped, webhook deleted")
			return
		}
		logger.Error().Err(err).Msg("Failed to load webhook for delivery")
		return
	}

	// A webhook deactivated mid-chain stops retrying, but a first
	// attempt still goes out: the subscription was active when the
	// event matched.
	if !webhook.Active && delivery.AttemptNumber > 1 {
		if err := e.deliveries.MarkFailedInert(ctx, delivery.ID, "webhook deactivated"); err != nil {
			logger.Error().Err(err).Msg("Failed to finalize delivery for deactivated webhook")
		}
		metrics.RecordDeliveryOutcome(outcomeSkipped, 0)
		logger.Info().Msg("Retry abandoned, webhook deactivated")
		return
	}

	if webhook.RateLimit != nil && !e.limiter.Allow(webhook.ID, *webhook.RateLimit) {
		// Deferral re-schedules the same attempt; it consumes neither
		// the retry budget nor any delivery counter.
		retryAt := time.Now().Add(cfg.RateLimitDeferral)
		if err := e.deliveries.Defer(ctx, delivery.ID, retryAt); err != nil {
			logger.Error().Err(err).Msg("Failed to defer rate-limited delivery")
			return
		}
		metrics.RecordDeliveryOutcome(outcomeDeferred, 0)
		logger.Debug().Time("retry_at", retryAt).Msg("Delivery deferred by rate limit")
		return
	}

	event, err := e.events.Get(ctx, delivery.EventID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load event for delivery")
		return
	}

	body, err := transport.BuildBody(event.EventType, event.ResourceType, event.ResourceID, event.Payload, time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build delivery payload")
		return
	}

	metrics.IncrementInFlight()
	resp, err := e.sender.Send(ctx, transport.Request{
		URL:     webhook.URL,
		Secret:  webhook.Secret,
		Body:    body,
		Headers: webhook.Headers,
	})
	metrics.DecrementInFlight()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build delivery request")
		return
	}

	result := &deliveries.Result{
		RequestHeaders:  resp.SentHeaders,
		RequestBody:     e.sender.TruncateBody(body),
		ResponseStatus:  resp.StatusCode,
		ResponseHeaders: resp.Headers,
		ResponseBody:    resp.Body,
		ErrorMessage:    resp.ErrorMessage(),
		Duration:        resp.Duration,
	}

	now := time.Now().UTC()

	switch {
	case resp.Success():
		if err := e.deliveries.MarkSuccess(ctx, delivery.ID, result); err != nil {
			logger.Error().Err(err).Msg("Failed to finalize successful delivery")
			return
		}
		e.recordStats(ctx, webhook.ID, webhooks.OutcomeSuccess, now, logger)
		metrics.RecordDeliveryOutcome(outcomeSuccess, resp.Duration)
		logger.Info().Int("status", resp.StatusCode).Dur("duration", resp.Duration).Msg("Delivery succeeded")

	case delivery.AttemptNumber >= cfg.MaxAttempts:
		if err := e.deliveries.MarkFailed(ctx, delivery.ID, result); err != nil {
			logger.Error().Err(err).Msg("Failed to finalize exhausted delivery")
			return
		}
		e.recordStats(ctx, webhook.ID, webhooks.OutcomeTerminalFailure, now, logger)
		metrics.RecordDeliveryOutcome(outcomeFailed, resp.Duration)
		logger.Warn().
			Int("status", resp.StatusCode).
			Str("error", result.ErrorMessage).
			Msg("Delivery failed terminally, retry budget exhausted")

	default:
		retryAt := now.Add(retryDelay(cfg, delivery.AttemptNumber))
		if err := e.deliveries.MarkRetrying(ctx, delivery.ID, result, retryAt); err != nil {
			logger.Error().Err(err).Msg("Failed to schedule delivery retry")
			return
		}
		e.recordStats(ctx, webhook.ID, webhooks.OutcomeFailure, now, logger)
		metrics.RecordDeliveryOutcome(outcomeRetrying, resp.Duration)
		logger.Info().
			Int("status", resp.StatusCode).
			Str("error", result.ErrorMessage).
			Time("retry_at", retryAt).
			Msg("Delivery failed, retry scheduled")
	}
}

func (e *Engine) recordStats(ctx context.Context, webhookID string, outcome webhooks.DeliveryOutcome, at time.Time, logger zerolog.Logger) {
	if err := e.whStore.RecordDelivery(ctx, webhookID, outcome, at); err != nil {
		logger.Error().Err(err).Msg("Failed to update webhook delivery counters")
	}
}
