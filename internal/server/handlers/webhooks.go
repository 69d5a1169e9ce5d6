package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/relayq/relayq/internal/webhooks"
)

type createWebhookRequest struct {
	OwnerID       string            `json:"owner_id"`
	TenantID      *string           `json:"tenant_id,omitempty"`
	URL           string            `json:"url"`
	EventTypes    []string          `json:"event_types"`
	PayloadFilter *string           `json:"payload_filter,omitempty"`
	RateLimit     *int              `json:"rate_limit,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// createWebhookResponse is the only place the signing secret ever
// appears in an API response.
type createWebhookResponse struct {
	*webhooks.Webhook
	Secret string `json:"secret"`
}

// CreateWebhook registers a webhook subscription. POST /api/webhooks
func (h *Handlers) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid JSON body")
		return
	}

	if req.OwnerID == "" {
		BadRequest(w, "owner_id is required")
		return
	}

	webhook, secret, err := h.webhooks.Create(r.Context(), webhooks.CreateParams{
		OwnerID:       req.OwnerID,
		TenantID:      req.TenantID,
		URL:           req.URL,
		EventTypes:    req.EventTypes,
		PayloadFilter: req.PayloadFilter,
		RateLimit:     req.RateLimit,
		Headers:       req.Headers,
	})
	if err != nil {
		if isValidationError(err) {
			BadRequest(w, err.Error())
			return
		}
		log.Error().Err(err).Msg("Failed to create webhook")
		InternalError(w, "Failed to create webhook")
		return
	}

	JSON(w, http.StatusCreated, createWebhookResponse{Webhook: webhook, Secret: secret})
}

// ListWebhooks lists an owner's webhooks. GET /api/webhooks?owner_id=
func (h *Handlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		BadRequest(w, "owner_id query parameter is required")
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"

	list, err := h.webhooks.List(r.Context(), ownerID, activeOnly)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list webhooks")
		InternalError(w, "Failed to list webhooks")
		return
	}

	if list == nil {
		list = []*webhooks.Webhook{}
	}
	JSON(w, http.StatusOK, map[string]any{"webhooks": list})
}

// GetWebhook fetches one webhook. GET /api/webhooks/{id}
func (h *Handlers) GetWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, err := h.webhooks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, webhooks.ErrNotFound) {
			NotFound(w, "Webhook not found")
			return
		}
		log.Error().Err(err).Msg("Failed to get webhook")
		InternalError(w, "Failed to get webhook")
		return
	}

	JSON(w, http.StatusOK, webhook)
}

type updateWebhookRequest struct {
	URL           *string           `json:"url,omitempty"`
	TenantID      *string           `json:"tenant_id,omitempty"`
	EventTypes    []string          `json:"event_types,omitempty"`
	PayloadFilter *string           `json:"payload_filter,omitempty"`
	ClearFilter   bool              `json:"clear_filter,omitempty"`
	Active        *bool             `json:"active,omitempty"`
	RateLimit     *int              `json:"rate_limit,omitempty"`
	ClearLimit    bool              `json:"clear_rate_limit,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// UpdateWebhook applies a partial update. PATCH /api/webhooks/{id}
func (h *Handlers) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var req updateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid JSON body")
		return
	}

	webhook, err := h.webhooks.Update(r.Context(), r.PathValue("id"), webhooks.UpdateParams{
		URL:           req.URL,
		TenantID:      req.TenantID,
		EventTypes:    req.EventTypes,
		PayloadFilter: req.PayloadFilter,
		ClearFilter:   req.ClearFilter,
		Active:        req.Active,
		RateLimit:     req.RateLimit,
		ClearLimit:    req.ClearLimit,
		Headers:       req.Headers,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhooks.ErrNotFound):
			NotFound(w, "Webhook not found")
		case isValidationError(err):
			BadRequest(w, err.Error())
		default:
			log.Error().Err(err).Msg("Failed to update webhook")
			InternalError(w, "Failed to update webhook")
		}
		return
	}

	JSON(w, http.StatusOK, webhook)
}

// DeleteWebhook removes a webhook. DELETE /api/webhooks/{id}
func (h *Handlers) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.webhooks.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete webhook")
		InternalError(w, "Failed to delete webhook")
		return
	}
	if !deleted {
		NotFound(w, "Webhook not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func isValidationError(err error) bool {
	return errors.Is(err, webhooks.ErrInvalidURL) ||
		errors.Is(err, webhooks.ErrNoEventTypes) ||
		errors.Is(err, webhooks.ErrInvalidPattern) ||
		errors.Is(err, webhooks.ErrInvalidFilter) ||
		errors.Is(err, webhooks.ErrInvalidRateLimit)
}
