// Package handlers implements the HTTP API for webhook management,
// event capture, and delivery history.
package handlers

import (
	"github.com/relayq/relayq/internal/database"
	"github.com/relayq/relayq/internal/deliveries"
	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/webhooks"
)

// Handlers bundles the services the API routes operate on.
type Handlers struct {
	db         *database.DB
	webhooks   *webhooks.Service
	events     *events.Store
	deliveries *deliveries.Store
}

// New creates the API handler set.
func New(db *database.DB, webhookService *webhooks.Service, eventStore *events.Store, deliveryStore *deliveries.Store) *Handlers {
	return &Handlers{
		db:         db,
		webhooks:   webhookService,
		events:     eventStore,
		deliveries: deliveryStore,
	}
}
