package routes

import (
	"github.com/dukerupert/evatr/internal/router"
)

// RegisterAPIRoutes registers the health, metrics and VAT check routes.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	r.Get("/health", deps.HealthHandler.Health)

	if deps.MetricsHandler != nil {
		r.Get("/metrics", deps.MetricsHandler.ServeHTTP)
	}

	v1 := r.Route("/api/v1/vat")
	v1.Post("/checks", deps.VatCheckHandler.Check)
	v1.Post("/validations", deps.VatCheckHandler.Validate)

	if deps.LogsEnabled {
		v1.Get("/checks/{recordID}", deps.VatCheckHandler.ListChecks)
		v1.Get("/checks/{recordID}/latest", deps.VatCheckHandler.LatestCheck)
	}
}
