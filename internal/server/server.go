// Package server hosts the HTTP API in front of the delivery engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/database"
	"github.com/relayq/relayq/internal/deliveries"
	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/metrics"
	"github.com/relayq/relayq/internal/webhooks"
)

// Server is the HTTP API server.
type Server struct {
	cfg        *config.Config
	db         *database.DB
	webhooks   *webhooks.Service
	events     *events.Store
	deliveries *deliveries.Store
	httpServer *http.Server
}

// New creates a server around the shared stores.
func New(cfg *config.Config, db *database.DB, webhookService *webhooks.Service, eventStore *events.Store, deliveryStore *deliveries.Store) *Server {
	return &Server{
		cfg:        cfg,
		db:         db,
		webhooks:   webhookService,
		events:     eventStore,
		deliveries: deliveryStore,
	}
}

// Start begins serving and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(ctx context.Context) error {
	router := NewRouter(s)

	addr := net.JoinHostPort(s.cfg.Server.Host, fmt.Sprintf("%d", s.cfg.Server.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go s.reportDBStats(ctx)

	log.Info().Str("addr", addr).Msg("HTTP server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server, letting in-flight requests drain.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) reportDBStats(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBStats(s.db.Stats().OpenConnections)
		}
	}
}

func (s *Server) DB() *database.DB { return s.db }

func (s *Server) Webhooks() *webhooks.Service { return s.webhooks }

func (s *Server) Events() *events.Store { return s.events }

func (s *Server) Deliveries() *deliveries.Store { return s.deliveries }
