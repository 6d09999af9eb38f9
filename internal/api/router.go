package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.HandleReady)
	r.Get("/lane", h.HandleLane)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.HandleListSessions)
		r.Get("/{id}", h.HandleGetSession)
		r.Get("/{id}/events", h.HandleListEvents)
	})
	r.Get("/outcomes", h.HandleOutcomes)

	r.Get("/menu", h.HandleGetMenu)
	r.Post("/menu/reload", h.HandleReloadMenu)

	r.Post("/debug/presence/{action}", h.HandleDebugPresence)

	if h.d.WorkerWS != nil {
		r.Get("/ws/worker", h.d.WorkerWS)
	}
	r.Handle("/metrics", promhttp.Handler())
	return r
}
