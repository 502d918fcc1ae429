package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/otis-dictation/otis/internal/session"
	"github.com/otis-dictation/otis/internal/transcribe"
)

type SessionHandler struct {
	machine Dictation
	history History
}

func NewSessionHandler(machine Dictation, history History) *SessionHandler {
	return &SessionHandler{machine: machine, history: history}
}

type startResponse struct {
	SessionID string               `json:"session_id"`
	Backend   transcribe.BackendID `json:"backend"`
	State     session.State        `json:"state"`
	Result    *session.ResultView  `json:"result,omitempty"`
}

type stopResponse struct {
	Stopped bool                `json:"stopped"`
	Status  session.Status      `json:"status"`
	Result  *session.ResultView `json:"result,omitempty"`
}

// Start begins a recording. With ?wait=true the response is held until the
// session returns to idle and carries its result.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	sess, err := h.machine.Start(context.WithoutCancel(r.Context()))
	if err != nil {
		writeSessionError(w, err)
		return
	}

	resp := startResponse{
		SessionID: sess.ID,
		Backend:   sess.Backend.ID,
		State:     session.StateRecording,
	}
	if wait, _ := QueryBool(r, "wait"); wait {
		clearWriteDeadline(w)
		view, ok := waitResult(r.Context(), sess)
		if !ok {
			return
		}
		resp.Result = view
		resp.State = session.StateIdle
		WriteJSON(w, http.StatusOK, resp)
		return
	}
	WriteJSON(w, http.StatusAccepted, resp)
}

// Stop ends a recording manually. A stop that loses to voice activity, or
// arrives while idle, reports stopped=false.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.endRecording(w, r, h.machine.Stop)
}

// Cancel discards the current recording without transcribing it.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.endRecording(w, r, h.machine.Cancel)
}

func (h *SessionHandler) endRecording(w http.ResponseWriter, r *http.Request, end func() bool) {
	sess := h.machine.Current()
	stopped := end()
	resp := stopResponse{Stopped: stopped}

	if wait, _ := QueryBool(r, "wait"); wait && sess != nil {
		clearWriteDeadline(w)
		view, ok := waitResult(r.Context(), sess)
		if !ok {
			return
		}
		resp.Result = view
	}
	resp.Status = h.machine.Status()
	WriteJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.machine.Status())
}

// GetLast returns the most recent transcription: this process's last result
// if there is one, otherwise the newest history record.
func (h *SessionHandler) GetLast(w http.ResponseWriter, r *http.Request) {
	if text, ok := h.machine.Last(); ok {
		WriteJSON(w, http.StatusOK, map[string]any{"text": text, "source": "session"})
		return
	}
	recent, err := h.history.ListRecent(r.Context(), 1)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if len(recent) == 0 {
		WriteError(w, http.StatusNotFound, "no transcription yet")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"text":   recent[0].Text,
		"source": "history",
		"record": recent[0],
	})
}

// CopyLast puts the last transcription back on the clipboard.
func (h *SessionHandler) CopyLast(w http.ResponseWriter, r *http.Request) {
	text, err := h.machine.CopyLast()
	if errors.Is(err, session.ErrNoTranscription) {
		WriteError(w, http.StatusNotFound, "no transcription yet")
		return
	}
	if err != nil {
		WriteErrorDetail(w, http.StatusInternalServerError, "clipboard write failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"copied": true, "length": len(text)})
}

// Routes registers session routes on the given router.
func (h *SessionHandler) Routes(r chi.Router) {
	r.Post("/session/start", h.Start)
	r.Post("/session/stop", h.Stop)
	r.Post("/session/cancel", h.Cancel)
	r.Get("/session/status", h.GetStatus)
	r.Get("/session/last", h.GetLast)
	r.Post("/session/last/copy", h.CopyLast)
}

// waitResult blocks until sess is done. It reports false when the client
// went away first.
func waitResult(ctx context.Context, sess *session.Session) (*session.ResultView, bool) {
	select {
	case <-sess.Done():
		view := sess.Result().View()
		return &view, true
	case <-ctx.Done():
		return nil, false
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	var active *session.AlreadyActiveError
	var cfgErr *transcribe.ConfigurationError
	var capErr *session.CaptureError
	switch {
	case errors.As(err, &active):
		WriteErrorDetail(w, http.StatusConflict, "session already active", err.Error())
	case errors.As(err, &cfgErr):
		WriteErrorDetail(w, http.StatusPreconditionFailed, "backend not ready", cfgErr.Reason)
	case errors.As(err, &capErr):
		WriteErrorDetail(w, http.StatusBadGateway, "audio capture failed", capErr.Err.Error())
	case errors.Is(err, session.ErrShuttingDown):
		WriteError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to start session", err.Error())
	}
}
