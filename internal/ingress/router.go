package ingress

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dentalfabric/xray-fabric/internal/store"
)

// NewRouter builds the chi router serving the Ingress API's HTTP surface.
func NewRouter(h *Handler, s *store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", banner)
	r.Get("/health", healthCheck(s))
	r.Get("/api/v1/health", healthCheck(s))
	r.Post("/api/v1/analyze", h.Analyze)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func banner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"service":"xray-fabric-ingress"}`))
}

func healthCheck(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.Exists(r.Context(), "__healthcheck__"); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}
