package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
// Health probes are not traced.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return !isHealthPath(r.URL.Path)
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes for the sidecar.
func SetupRoutes(handlers *Handlers, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(recoveryMiddleware)
	router.Use(loggingMiddleware)
	for _, opt := range opts {
		opt(router)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/limits", handlers.ListPolicies).Methods("GET")
	api.HandleFunc("/limits/{action}", handlers.GetPolicy).Methods("GET")
	api.HandleFunc("/limits/{action}/check", handlers.CheckLimit).Methods("POST")
	api.HandleFunc("/limits/{action}/counters", handlers.GetCounter).Methods("GET")
	api.HandleFunc("/limits/{action}/counters", handlers.ResetCounter).Methods("DELETE")
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	// Subrouters answer their own misses; the root handlers never see them.
	for _, r := range []*mux.Router{router, api} {
		r.NotFoundHandler = http.HandlerFunc(notFoundHandler)
		r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	}

	return router
}
