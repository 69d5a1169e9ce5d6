package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/metrics"
)

type emitEventRequest struct {
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	TenantID     string          `json:"tenant_id,omitempty"`
}

// EmitEvent captures an event for fan-out. POST /api/events
func (h *Handlers) EmitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid JSON body")
		return
	}

	event, err := h.events.Emit(r.Context(), req.EventType, req.Payload, events.EmitOptions{
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		TenantID:     req.TenantID,
	})
	if err != nil {
		if errors.Is(err, events.ErrEmptyType) || errors.Is(err, events.ErrEmptyPayload) {
			BadRequest(w, err.Error())
			return
		}
		log.Error().Err(err).Msg("Failed to emit event")
		InternalError(w, "Failed to emit event")
		return
	}

	metrics.RecordEventEmitted(event.EventType)

	JSON(w, http.StatusCreated, event)
}

// GetEvent fetches one captured event. GET /api/events/{id}
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, events.ErrNotFound) {
			NotFound(w, "Event not found")
			return
		}
		log.Error().Err(err).Msg("Failed to get event")
		InternalError(w, "Failed to get event")
		return
	}

	JSON(w, http.StatusOK, event)
}
