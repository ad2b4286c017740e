package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/statekit/pkg/httpserver"
	"github.com/dmitrymomot/statekit/pkg/requestid"
)

type RouterOptions struct {
	Logger *slog.Logger
	// Checks back the /ready endpoint.
	Checks map[string]httpserver.Check
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Timeout  time.Duration
}

// Router builds the service's root handler.
func Router(svc Service, opts RouterOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware())
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", httpserver.HealthHandler(log, nil))
	r.Get("/ready", httpserver.HealthHandler(log, opts.Checks))
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	New(svc, log).Register(r)
	return r
}
