package events

import (
	"encoding/json"
	"time"
)

// Event is an immutable fact describing something that happened in the
// system. Events are captured independently of who will receive them;
// the dispatcher fans them out to matching webhooks afterwards.
type Event struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	ResourceType *string         `json:"resource_type,omitempty"`
	ResourceID   *string         `json:"resource_id,omitempty"`
	TenantID     *string         `json:"tenant_id,omitempty"`
	Processed    bool            `json:"processed"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// EmitOptions carries the optional attributes of an emitted event.
type EmitOptions struct {
	ResourceType string
	ResourceID   string
	TenantID     string
}
