package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/minqiao/notepress-backend/api/handlers"
	"github.com/minqiao/notepress-backend/api/middleware"
	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

// HandlerParams carries the dependencies for the worker's ops endpoints.
type HandlerParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Deps     map[string]handlers.Pinger
}

// NewHandler returns the HTTP handler the worker exposes for health
// checks and metrics scraping.
func NewHandler(params HandlerParams) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID(params.Logger))
	r.Use(middleware.Logging(params.Logger))
	r.Use(middleware.Recoverer(params.Logger))

	r.Get("/healthz", handlers.Healthz(params.Config, params.Logger))
	r.Get("/readyz", handlers.Readyz(params.Logger, params.Deps))
	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	return r
}
