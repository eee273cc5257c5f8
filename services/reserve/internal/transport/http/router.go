package http

import (
	"log"
	"net/http"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the full HTTP surface. Everything except health and
// metrics requires a holder identity.
func NewRouter(leases ReservationAPI, checkout CheckoutAPI, adapters domain.AdapterRegistry, corsOrigins []string, logger *log.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(CORS(corsOrigins))

	r.Get("/health", HealthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	lh := NewLeaseHandler(leases, adapters, logger)
	ch := NewCheckoutHandler(checkout, leases, adapters, logger)

	r.Group(func(r chi.Router) {
		r.Use(RequireHolder)

		r.Post("/leases", lh.Acquire)
		r.Get("/leases/{leaseID}", lh.Get)
		r.Post("/leases/{leaseID}/renew", lh.Renew)
		r.Post("/leases/{leaseID}/release", lh.Release)
		r.Post("/leases/{leaseID}/commit", lh.Commit)
		r.Get("/resources/{kind}/{resourceID}/availability", lh.Availability)

		r.Post("/checkout", ch.Open)
		r.Get("/checkout/{sessionID}", ch.Show)
		r.Post("/checkout/{sessionID}/resume", ch.Resume)
		r.Post("/checkout/{sessionID}/commit", ch.Commit)
		r.Post("/checkout/{sessionID}/abandon", ch.Abandon)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})

	return r
}

// HealthHandler reports basic liveness for the service.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
