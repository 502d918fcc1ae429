package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	ActiveBackend string            `json:"active_backend,omitempty"`
}

type HealthHandler struct {
	db        History
	recorder  RecorderProbe
	backends  BackendCatalog
	settings  SettingsStore
	version   string
	startTime time.Time
}

func NewHealthHandler(db History, recorder RecorderProbe, backends BackendCatalog, settings SettingsStore, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		recorder:  recorder,
		backends:  backends,
		settings:  settings,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP reports "unhealthy" when the history database is unreachable and
// "degraded" when dictation could not start right now.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check
	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// Recorder check
	if h.recorder != nil {
		if err := h.recorder.Available(); err != nil {
			checks["recorder"] = "missing"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["recorder"] = "ok"
		}
	} else {
		checks["recorder"] = "not_configured"
	}

	// Active backend check
	var active string
	if h.backends != nil && h.settings != nil {
		d, err := h.backends.ResolveActive(h.settings.Current())
		active = string(d.ID)
		if err != nil {
			checks["backend"] = "not_ready"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["backend"] = "ok"
		}
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		ActiveBackend: active,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
