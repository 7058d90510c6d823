// Package api wires the HTTP boundary: routing, middleware and problem
// rendering over the domain services.
package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/prism-data/prism/internal/api/handlers"
	"github.com/prism-data/prism/internal/api/middleware"
	"github.com/prism-data/prism/internal/domain/changesets"
	"github.com/prism-data/prism/internal/domain/resources"
	"github.com/prism-data/prism/internal/metrics"
)

// Deps carries everything the router mounts.
type Deps struct {
	Resources   *resources.Service
	Changesets  *changesets.Service
	Pool        *pgxpool.Pool
	Environment string
}

func NewRouter(deps Deps, logger zerolog.Logger) http.Handler {
	resourcesHandler := handlers.NewResourcesHandler(deps.Resources, deps.Environment)
	changesetsHandler := handlers.NewChangesetsHandler(deps.Changesets, deps.Environment)

	mux := http.NewServeMux()
	mux.Handle("/healthz", handlers.Healthz())
	mux.Handle("/readyz", handlers.Readyz(deps.Pool))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.Handle("/api/v1/resources", methodMux(map[string]http.Handler{
		http.MethodPost: http.HandlerFunc(resourcesHandler.Create),
	}))
	mux.Handle("/api/v1/resources/{type}/{identifier}", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(resourcesHandler.Get),
	}))
	mux.Handle("/api/v1/resources/{type}/{identifier}/source/{sourceType}", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(resourcesHandler.GetSource),
	}))
	mux.Handle("/api/v1/identifiers/{scheme}", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(resourcesHandler.Lookup),
	}))

	mux.Handle("/api/v1/changesets", methodMux(map[string]http.Handler{
		http.MethodPost: http.HandlerFunc(changesetsHandler.Perform),
	}))
	mux.Handle("/api/v1/changesets/{id}", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(changesetsHandler.Get),
	}))
	mux.Handle("/api/v1/changesets/{id}/perform", methodMux(map[string]http.Handler{
		http.MethodPost: http.HandlerFunc(changesetsHandler.PerformByID),
	}))

	return middleware.Tracing(middleware.RequestLogging(logger)(mux))
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
