package httpapi

import (
	"github.com/go-chi/chi/v5"
)

// NewRouter registers the read-only status surface — a thin ambient
// adapter for dashboards and health checks, not a full CLI/HTTP control
// plane — plus the optional websocket status stream.
func NewRouter(ctrl *Controller, hub *StatusHub) *chi.Mux {
	r := chi.NewRouter()
	r.Use(Logger)

	r.Get("/healthz", ctrl.health)
	r.Get("/ledger/{account}/balance", ctrl.ledgerBalance)
	r.Get("/reward/schedule", ctrl.rewardSchedule)
	r.Get("/workers", ctrl.workers)
	if hub != nil {
		r.Get("/ws/status", hub.ServeHTTP)
	}
	return r
}
