package statsapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the REST API and the metrics endpoint:
//
//	GET /api/sessions       session list
//	GET /api/sessions/{id}  one session with statistics
//	GET /metrics            Prometheus exposition
func Handler(reg *Registry, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &handler{reg: reg, log: log.With("component", "stats-api")}

	prom := prometheus.NewRegistry()
	prom.MustRegister(NewCollector(reg))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", h.handleList)
	mux.HandleFunc("GET /api/sessions/{id}", h.handleGet)
	mux.Handle("GET /metrics", promhttp.HandlerFor(prom, promhttp.HandlerOpts{}))
	return mux
}

type handler struct {
	reg *Registry
	log *slog.Logger
}

func (h *handler) handleList(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.reg.List())
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.reg.Get(r.PathValue("id"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encoding JSON response", "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}
