package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type StatsHandler struct {
	db       History
	backends BackendCatalog
	settings SettingsStore
	debug    DebugSource
}

func NewStatsHandler(db History, backends BackendCatalog, settings SettingsStore, debug DebugSource) *StatsHandler {
	return &StatsHandler{db: db, backends: backends, settings: settings, debug: debug}
}

// GetStats returns history and telemetry row counts.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.GetStats(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// ListBackends returns every registered backend with its readiness and the
// id the current settings resolve to.
func (h *StatsHandler) ListBackends(w http.ResponseWriter, r *http.Request) {
	statuses := h.backends.Statuses()
	d, err := h.backends.ResolveActive(h.settings.Current())
	resp := map[string]any{
		"active":   d.ID,
		"backends": statuses,
		"total":    len(statuses),
	}
	if err != nil {
		resp["active_error"] = err.Error()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetLastDebug returns the debug report of the most recent debug-mode session.
func (h *StatsHandler) GetLastDebug(w http.ResponseWriter, r *http.Request) {
	if h.debug == nil {
		WriteError(w, http.StatusNotFound, "no debug report")
		return
	}
	rep := h.debug.Last()
	if rep == nil {
		WriteError(w, http.StatusNotFound, "no debug report")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"report":           rep,
		"speed_multiplier": rep.SpeedMultiplier(),
	})
}

// Routes registers stats routes on the given router.
func (h *StatsHandler) Routes(r chi.Router) {
	r.Get("/stats", h.GetStats)
	r.Get("/backends", h.ListBackends)
	r.Get("/debug/last", h.GetLastDebug)
}
