package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/relayq/relayq/internal/deliveries"
)

// ListDeliveries queries delivery history newest-first, filtered by
// webhook_id, event_id, and status. GET /api/deliveries
func (h *Handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := deliveries.ListFilter{
		WebhookID: q.Get("webhook_id"),
		EventID:   q.Get("event_id"),
		Status:    deliveries.Status(q.Get("status")),
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			BadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	list, err := h.deliveries.List(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list deliveries")
		InternalError(w, "Failed to list deliveries")
		return
	}

	if list == nil {
		list = []*deliveries.Delivery{}
	}
	JSON(w, http.StatusOK, map[string]any{"deliveries": list})
}

// GetDelivery fetches one delivery attempt, including its request and
// response snapshots. GET /api/deliveries/{id}
func (h *Handlers) GetDelivery(w http.ResponseWriter, r *http.Request) {
	delivery, err := h.deliveries.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, deliveries.ErrNotFound) {
			NotFound(w, "Delivery not found")
			return
		}
		log.Error().Err(err).Msg("Failed to get delivery")
		InternalError(w, "Failed to get delivery")
		return
	}

	JSON(w, http.StatusOK, delivery)
}

// ListWebhookDeliveries lists a webhook's delivery history.
// GET /api/webhooks/{id}/deliveries
func (h *Handlers) ListWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	r2 := r.Clone(r.Context())
	q := r2.URL.Query()
	q.Set("webhook_id", r.PathValue("id"))
	r2.URL.RawQuery = q.Encode()

	h.ListDeliveries(w, r2)
}
