package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/filter"
)

const secretPrefix = "whsec_"

var (
	ErrInvalidURL       = errors.New("webhook URL must be a valid http or https URL")
	ErrNoEventTypes     = errors.New("webhook must subscribe to at least one event type")
	ErrInvalidPattern   = errors.New("invalid event type pattern")
	ErrInvalidFilter    = errors.New("invalid payload filter expression")
	ErrInvalidRateLimit = errors.New("rate limit must be positive")
)

// Service wraps the store with validation, secret management, and event
// matching.
type Service struct {
	store  *Store
	filter *filter.Engine
}

// NewService creates a webhook service.
func NewService(store *Store, filterEngine *filter.Engine) *Service {
	return &Service{store: store, filter: filterEngine}
}

// CreateParams holds the caller-supplied fields for a new webhook.
type CreateParams struct {
	OwnerID       string
	TenantID      *string
	URL           string
	EventTypes    []string
	PayloadFilter *string
	RateLimit     *int
	Headers       map[string]string
}

// Create registers a new webhook and returns it together with the
// generated signing secret. The secret is not recoverable afterwards.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Webhook, string, error) {
	if err := s.validate(params.URL, params.EventTypes, params.PayloadFilter, params.RateLimit); err != nil {
		return nil, "", err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, "", fmt.Errorf("generating secret: %w", err)
	}

	webhook := &Webhook{
		ID:            uuid.New().String(),
		OwnerID:       params.OwnerID,
		TenantID:      params.TenantID,
		URL:           params.URL,
		Secret:        secret,
		EventTypes:    params.EventTypes,
		PayloadFilter: params.PayloadFilter,
		Active:        true,
		RateLimit:     params.RateLimit,
		Headers:       params.Headers,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	if err := s.store.Create(ctx, webhook); err != nil {
		return nil, "", err
	}

	log.Info().
		Str("webhook_id", webhook.ID).
		Str("url", webhook.URL).
		Strs("event_types", webhook.EventTypes).
		Msg("Webhook registered")

	return webhook, secret, nil
}

// Get retrieves a webhook by ID.
func (s *Service) Get(ctx context.Context, id string) (*Webhook, error) {
	return s.store.Get(ctx, id)
}

// List retrieves webhooks for an owner.
func (s *Service) List(ctx context.Context, ownerID string, activeOnly bool) ([]*Webhook, error) {
	return s.store.List(ctx, ownerID, activeOnly)
}

// UpdateParams holds the updatable webhook fields. Nil pointers leave the
// current value untouched. The secret cannot be changed.
type UpdateParams struct {
	URL           *string
	TenantID      *string
	EventTypes    []string
	PayloadFilter *string
	ClearFilter   bool
	Active        *bool
	RateLimit     *int
	ClearLimit    bool
	Headers       map[string]string
}

// Update applies a partial update to a webhook and returns the result.
func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (*Webhook, error) {
	webhook, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.URL != nil {
		webhook.URL = *params.URL
	}
	if params.TenantID != nil {
		webhook.TenantID = params.TenantID
	}
	if params.EventTypes != nil {
		webhook.EventTypes = params.EventTypes
	}
	if params.ClearFilter {
		webhook.PayloadFilter = nil
	} else if params.PayloadFilter != nil {
		webhook.PayloadFilter = params.PayloadFilter
	}
	if params.Active != nil {
		webhook.Active = *params.Active
	}
	if params.ClearLimit {
		webhook.RateLimit = nil
	} else if params.RateLimit != nil {
		webhook.RateLimit = params.RateLimit
	}
	if params.Headers != nil {
		webhook.Headers = params.Headers
	}

	if err := s.validate(webhook.URL, webhook.EventTypes, webhook.PayloadFilter, webhook.RateLimit); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, webhook); err != nil {
		return nil, err
	}

	return webhook, nil
}

// Delete removes a webhook. Pending deliveries for it fail terminally on
// their next sweep.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}

	if deleted {
		log.Info().Str("webhook_id", id).Msg("Webhook deleted")
	}

	return deleted, nil
}

// Matches reports whether an event should be delivered to a webhook:
// tenant scope, event type subscription, and payload filter all have to
// agree. A filter evaluation error counts as no match.
func (s *Service) Matches(webhook *Webhook, event *events.Event) bool {
	if webhook.TenantID != nil {
		if event.TenantID == nil || *event.TenantID != *webhook.TenantID {
			return false
		}
	}

	if !matchesEventType(webhook.EventTypes, event.EventType) {
		return false
	}

	if webhook.PayloadFilter == nil || *webhook.PayloadFilter == "" {
		return true
	}

	attrs := map[string]any{
		"type": event.EventType,
	}
	if event.ResourceType != nil {
		attrs["resource_type"] = *event.ResourceType
	}
	if event.ResourceID != nil {
		attrs["resource_id"] = *event.ResourceID
	}

	matched, err := s.filter.Match(*webhook.PayloadFilter, attrs, event.Payload)
	if err != nil {
		log.Warn().
			Err(err).
			Str("webhook_id", webhook.ID).
			Str("event_id", event.ID).
			Msg("Payload filter evaluation failed, skipping delivery")
		return false
	}

	return matched
}

func matchesEventType(patterns []string, eventType string) bool {
	for _, pattern := range patterns {
		if pattern == eventType {
			return true
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			continue
		}
		if g.Match(eventType) {
			return true
		}
	}
	return false
}

func (s *Service) validate(rawURL string, eventTypes []string, payloadFilter *string, rateLimit *int) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ErrInvalidURL
	}

	if len(eventTypes) == 0 {
		return ErrNoEventTypes
	}
	for _, pattern := range eventTypes {
		if pattern == "" {
			return fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
		}
		if _, err := glob.Compile(pattern, '.'); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
		}
	}

	if payloadFilter != nil && *payloadFilter != "" {
		if err := s.filter.Compile(*payloadFilter); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
	}

	if rateLimit != nil && *rateLimit <= 0 {
		return ErrInvalidRateLimit
	}

	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return secretPrefix + hex.EncodeToString(buf), nil
}
