package deliveries

import "time"

// Status is the lifecycle state of a delivery attempt row.
type Status string

const (
	// StatusPending is a fanned-out attempt that has not been picked up
	// by a worker yet.
	StatusPending Status = "pending"
	// StatusDelivering is an attempt currently held by a worker.
	StatusDelivering Status = "delivering"
	// StatusSuccess is a 2xx response. Terminal.
	StatusSuccess Status = "success"
	// StatusRetrying is a failed attempt awaiting its backoff window,
	// or a historical attempt superseded by a later one.
	StatusRetrying Status = "retrying"
	// StatusFailed means the retry budget is exhausted or the webhook
	// became undeliverable. Terminal.
	StatusFailed Status = "failed"
)

// Delivery is one attempt to deliver an event to a webhook. A chain of
// rows sharing (webhook_id, event_id) records the full retry history;
// at most one row per chain is terminal.
type Delivery struct {
	ID            string `json:"id"`
	WebhookID     string `json:"webhook_id"`
	EventID       string `json:"event_id"`
	AttemptNumber int    `json:"attempt_number"`
	Status        Status `json:"status"`

	// Deferred marks a row that was scheduled but never executed, for
	// example because the webhook's rate limit was hit. It is re-sent
	// later under the same attempt number.
	Deferred bool `json:"deferred,omitempty"`

	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestBody     string            `json:"request_body,omitempty"`
	ResponseStatus  *int              `json:"response_status,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	DurationMS      *int64            `json:"duration_ms,omitempty"`

	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Result captures what happened during one executed HTTP attempt.
type Result struct {
	RequestHeaders  map[string]string
	RequestBody     string
	ResponseStatus  int
	ResponseHeaders map[string]string
	ResponseBody    string
	ErrorMessage    string
	Duration        time.Duration
}

// ListFilter narrows a delivery history query. Zero values are ignored.
type ListFilter struct {
	WebhookID string
	EventID   string
	Status    Status
	Limit     int
	Offset    int
}
