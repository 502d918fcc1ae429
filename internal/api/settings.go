package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/otis-dictation/otis/internal/settings"
)

type SettingsHandler struct {
	settings SettingsStore
}

func NewSettingsHandler(s SettingsStore) *SettingsHandler {
	return &SettingsHandler{settings: s}
}

func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.settings.Current())
}

// PatchSettings applies a partial update. Invalid values are rejected as a
// whole and nothing is persisted.
func (h *SettingsHandler) PatchSettings(w http.ResponseWriter, r *http.Request) {
	var p settings.Patch
	if err := DecodeJSON(r, &p); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if p.IsEmpty() {
		WriteJSON(w, http.StatusOK, h.settings.Current())
		return
	}

	s, err := h.settings.Update(p)
	var ve *settings.ValidationError
	if errors.As(err, &ve) {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid settings", ve.Err.Error())
		return
	}
	if err != nil {
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to save settings", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, s)
}

func (h *SettingsHandler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.ResetToDefaults()
	if err != nil {
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to save settings", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, s)
}

// Routes registers settings routes on the given router.
func (h *SettingsHandler) Routes(r chi.Router) {
	r.Get("/settings", h.GetSettings)
	r.Patch("/settings", h.PatchSettings)
	r.Post("/settings/reset", h.ResetSettings)
}
