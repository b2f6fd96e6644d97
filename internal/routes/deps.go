package routes

import (
	"net/http"

	"github.com/dukerupert/evatr/internal/handler/api"
)

// APIDeps contains dependencies for the VAT check API
type APIDeps struct {
	VatCheckHandler *api.VatCheckHandler
	HealthHandler   *api.HealthHandler

	// MetricsHandler serves /metrics. Nil disables the endpoint.
	MetricsHandler http.Handler

	// LogsEnabled registers the check log endpoints.
	LogsEnabled bool
}
