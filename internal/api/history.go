package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/otis-dictation/otis/internal/database"
	"github.com/otis-dictation/otis/internal/events"
)

const defaultHistoryLimit = 50

type HistoryHandler struct {
	db  History
	bus EventSource
}

func NewHistoryHandler(db History, bus EventSource) *HistoryHandler {
	return &HistoryHandler{db: db, bus: bus}
}

// ListHistory returns the most recent transcriptions, newest first.
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v, ok := QueryInt(r, "limit"); ok {
		if v < 1 {
			WriteError(w, http.StatusBadRequest, "limit must be >= 1")
			return
		}
		limit = v
	}

	rows, err := h.db.ListRecent(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list transcriptions")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"transcriptions": rows,
		"total":          len(rows),
	})
}

// GetEntry returns one transcription by id.
func (h *HistoryHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid transcription id")
		return
	}
	t, err := h.db.GetTranscription(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "transcription not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to get transcription")
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

// DeleteEntry removes one transcription.
func (h *HistoryHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid transcription id")
		return
	}
	err = h.db.DeleteTranscription(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "transcription not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to delete transcription")
		return
	}
	h.publish("deleted", id, 1)
	w.WriteHeader(http.StatusNoContent)
}

// ClearHistory removes every transcription. Telemetry is untouched.
func (h *HistoryHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := h.db.ClearTranscriptions(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	h.publish("cleared", 0, n)
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (h *HistoryHandler) publish(action string, id, count int64) {
	if h.bus == nil {
		return
	}
	payload := map[string]any{"action": action, "count": count}
	if id > 0 {
		payload["id"] = id
	}
	h.bus.Publish(events.TypeHistoryChanged, payload)
}

// Routes registers history routes on the given router.
func (h *HistoryHandler) Routes(r chi.Router) {
	r.Get("/history", h.ListHistory)
	r.Delete("/history", h.ClearHistory)
	r.Get("/history/{id}", h.GetEntry)
	r.Delete("/history/{id}", h.DeleteEntry)
}
