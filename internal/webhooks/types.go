package webhooks

import "time"

// Webhook represents a tenant's subscription to one or more event types.
type Webhook struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	TenantID      *string           `json:"tenant_id,omitempty"`
	URL           string            `json:"url"`
	Secret        string            `json:"-"` // returned once at creation, never read back out
	EventTypes    []string          `json:"event_types"`
	PayloadFilter *string           `json:"payload_filter,omitempty"`
	Active        bool              `json:"active"`
	RateLimit     *int              `json:"rate_limit,omitempty"` // requests per minute
	Headers       map[string]string `json:"headers,omitempty"`

	TotalDeliveries      int64 `json:"total_deliveries"`
	SuccessfulDeliveries int64 `json:"successful_deliveries"`
	FailedDeliveries     int64 `json:"failed_deliveries"`

	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt  *time.Time `json:"last_failure_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeliveryOutcome describes how an executed delivery attempt ended, for
// stats aggregation purposes.
type DeliveryOutcome int

const (
	// OutcomeSuccess is a 2xx response.
	OutcomeSuccess DeliveryOutcome = iota
	// OutcomeFailure is an executed attempt that failed but will be retried.
	OutcomeFailure
	// OutcomeTerminalFailure is an executed attempt that exhausted the
	// retry budget.
	OutcomeTerminalFailure
)
