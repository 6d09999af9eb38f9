package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"drivethru/lane/internal/health"
	"drivethru/lane/internal/menu"
	"drivethru/lane/internal/orchestrator"
	"drivethru/lane/internal/presence"
	"drivethru/lane/internal/store"
	"drivethru/lane/internal/types"
)

const (
	defaultOutcomeLimit = 20
	maxOutcomeLimit     = 500
)

// LaneStatus is satisfied by *orchestrator.Controller.
type LaneStatus interface {
	Status() orchestrator.Status
}

// OutcomeSource is satisfied by *ledger.Ledger.
type OutcomeSource interface {
	Recent(ctx context.Context, limit int) ([]types.OrderOutcome, error)
}

type Deps struct {
	Lane   LaneStatus
	Store  *store.Store
	Ledger OutcomeSource // optional; the store board is served without it
	Menu   *menu.Holder
	// ReloadMenu rebuilds the catalog from its configured source.
	ReloadMenu func() (*menu.Catalog, error)
	// Presence is set only with the simulated sensor.
	Presence   *presence.Toggle
	QueueDepth func() int
	Ready      func(ctx context.Context) health.HealthStatus
	WorkerWS   http.HandlerFunc
}

type Handlers struct {
	d Deps
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{d: d}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.d.Ready == nil {
		writeJSON(w, http.StatusOK, health.HealthStatus{OK: true})
		return
	}
	st := h.d.Ready(r.Context())
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (h *Handlers) HandleLane(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if h.d.QueueDepth != nil {
		depth = h.d.QueueDepth()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lane":        h.d.Lane.Status(),
		"queue_depth": depth,
	})
}

func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.d.Store.ListSessions()})
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.d.Store.GetSession(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.d.Store.GetSession(id); !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.d.Store.ListEvents(id),
	})
}

func (h *Handlers) HandleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := defaultOutcomeLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxOutcomeLimit)
	}
	source := "store"
	var out []types.OrderOutcome
	if h.d.Ledger != nil {
		var err error
		out, err = h.d.Ledger.Recent(r.Context(), limit)
		if err != nil {
			log.Printf("[api] ledger read failed: %v", err)
			http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
			return
		}
		source = "ledger"
	} else {
		out = h.d.Store.Recent(limit)
	}
	if out == nil {
		out = []types.OrderOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "outcomes": out})
}

func menuBody(c *menu.Catalog) map[string]any {
	return map[string]any{
		"items":       c.Items(),
		"repeat_code": menu.RepeatCode,
		"cancel_code": c.CancelCode(),
	}
}

func (h *Handlers) HandleGetMenu(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, menuBody(h.d.Menu.Load()))
}

func (h *Handlers) HandleReloadMenu(w http.ResponseWriter, r *http.Request) {
	if h.d.ReloadMenu == nil {
		http.Error(w, "menu reload not configured", http.StatusNotImplemented)
		return
	}
	c, err := h.d.ReloadMenu()
	if err != nil {
		log.Printf("[api] menu reload failed: %v", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	h.d.Menu.Swap(c)
	log.Printf("[api] menu reloaded items=%d cancel=%d", c.Len(), c.CancelCode())
	writeJSON(w, http.StatusOK, menuBody(c))
}

func (h *Handlers) HandleDebugPresence(w http.ResponseWriter, r *http.Request) {
	if h.d.Presence == nil {
		http.Error(w, "presence sensor is not simulated", http.StatusConflict)
		return
	}
	switch chi.URLParam(r, "action") {
	case "arrive":
		h.d.Presence.Set(true)
	case "depart":
		h.d.Presence.Set(false)
	default:
		http.NotFound(w, r)
		return
	}
	present, _ := h.d.Presence.Read()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "present": present})
}
