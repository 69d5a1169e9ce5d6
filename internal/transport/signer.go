// Package transport sends signed webhook requests and verifies their
// signatures on the receiving side.
package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Header names attached to every delivery. Subscriber-supplied custom
// headers can never override these.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// Sign computes the hex HMAC-SHA256 signature of a request body. The
// signed message is the Unix timestamp and the raw body joined by a
// dot, which binds the signature to the send time and lets receivers
// reject stale replays.
func Sign(secret string, timestamp time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature the way a receiver would. Comparison is
// constant-time.
func Verify(secret, signature string, timestamp time.Time, body []byte) bool {
	expected := Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Payload is the JSON body delivered to subscriber endpoints. The same
// event always serializes to the same body apart from delivered_at.
type Payload struct {
	EventType    string          `json:"event_type"`
	ResourceType *string         `json:"resource_type"`
	ResourceID   *string         `json:"resource_id"`
	Data         json.RawMessage `json:"data"`
	DeliveredAt  string          `json:"delivered_at"`
}

// BuildBody serializes the delivery payload for an event.
func BuildBody(eventType string, resourceType, resourceID *string, data json.RawMessage, deliveredAt time.Time) ([]byte, error) {
	body, err := json.Marshal(Payload{
		EventType:    eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Data:         data,
		DeliveredAt:  deliveredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling delivery payload: %w", err)
	}
	return body, nil
}
