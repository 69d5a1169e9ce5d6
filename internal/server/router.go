package server

import (
	"net/http"

	"github.com/relayq/relayq/internal/metrics"
	"github.com/relayq/relayq/internal/server/handlers"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
}

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MaxBodyMiddleware(r.server.cfg.Server.MaxBodySize))
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	h := handlers.New(r.server.DB(), r.server.Webhooks(), r.server.Events(), r.server.Deliveries())

	r.mux.HandleFunc("GET /health", h.HealthCheck)
	r.mux.Handle("GET /metrics", metrics.Handler())

	r.mux.HandleFunc("POST /api/webhooks", h.CreateWebhook)
	r.mux.HandleFunc("GET /api/webhooks", h.ListWebhooks)
	r.mux.HandleFunc("GET /api/webhooks/{id}", h.GetWebhook)
	r.mux.HandleFunc("PATCH /api/webhooks/{id}", h.UpdateWebhook)
	r.mux.HandleFunc("DELETE /api/webhooks/{id}", h.DeleteWebhook)
	r.mux.HandleFunc("GET /api/webhooks/{id}/deliveries", h.ListWebhookDeliveries)

	r.mux.HandleFunc("POST /api/events", h.EmitEvent)
	r.mux.HandleFunc("GET /api/events/{id}", h.GetEvent)

	r.mux.HandleFunc("GET /api/deliveries", h.ListDeliveries)
	r.mux.HandleFunc("GET /api/deliveries/{id}", h.GetDelivery)
}

// Handler returns the mux wrapped in the middleware chain, outermost
// first.
func (r *Router) Handler() http.Handler {
	var handler http.Handler = r.mux
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}
	return handler
}
