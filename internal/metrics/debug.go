package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Checkpoint names marked by the session machine.
const (
	CheckpointRecordingStarted   = "recording_started"
	CheckpointRecordingStopped   = "recording_stopped"
	CheckpointTranscribeStarted  = "transcribe_started"
	CheckpointTranscribeFinished = "transcribe_finished"
	CheckpointHistoryWritten     = "history_written"
	CheckpointSessionFinished    = "session_finished"
)

// Checkpoint is a named instant, relative to the start of the session.
type Checkpoint struct {
	Name     string        `json:"name"`
	Offset   time.Duration `json:"-"`
	OffsetMs int64         `json:"offset_ms"`
}

// Report summarizes one debug-enabled session.
type Report struct {
	SessionID            string       `json:"session_id"`
	Backend              string       `json:"backend,omitempty"`
	Model                string       `json:"model,omitempty"`
	AudioPath            string       `json:"audio_path,omitempty"`
	DurationSeconds      float64      `json:"duration_seconds"`
	TranscriptionSeconds float64      `json:"transcription_seconds"`
	RealtimeFactor       float64      `json:"realtime_factor"`
	TokenCount           *int         `json:"token_count,omitempty"`
	EstimatedCost        *float64     `json:"estimated_cost,omitempty"`
	Checkpoints          []Checkpoint `json:"checkpoints"`
}

// SpeedMultiplier is how many times faster than real time the backend ran.
func (r *Report) SpeedMultiplier() float64 {
	if r.TranscriptionSeconds <= 0 {
		return 0
	}
	return r.DurationSeconds / r.TranscriptionSeconds
}

// DebugCollector hands out per-session handles when debug mode is on and
// keeps the most recent report.
type DebugCollector struct {
	log zerolog.Logger
	now func() time.Time

	mu   sync.Mutex
	last *Report
}

func NewDebugCollector(log zerolog.Logger) *DebugCollector {
	return &DebugCollector{log: log, now: time.Now}
}

// Begin starts collecting for a session. It returns nil when disabled; every
// Handle method is a no-op on a nil receiver.
func (c *DebugCollector) Begin(sessionID string, enabled bool) *Handle {
	if c == nil || !enabled {
		return nil
	}
	return &Handle{
		collector: c,
		start:     c.now(),
		report:    Report{SessionID: sessionID},
	}
}

// Last returns the most recent finished report, or nil.
func (c *DebugCollector) Last() *Report {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Handle accumulates timing and usage for one session.
type Handle struct {
	collector *DebugCollector
	start     time.Time

	mu       sync.Mutex
	report   Report
	finished bool
}

// Mark records a checkpoint at the current time.
func (h *Handle) Mark(name string) {
	if h == nil {
		return
	}
	at := h.collector.now().Sub(h.start)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report.Checkpoints = append(h.report.Checkpoints, Checkpoint{
		Name:     name,
		Offset:   at,
		OffsetMs: at.Milliseconds(),
	})
}

// SetBackend records the engine and model used.
func (h *Handle) SetBackend(backend, model string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report.Backend = backend
	h.report.Model = model
}

// SetAudio records the retained recording and its length.
func (h *Handle) SetAudio(path string, seconds float64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report.AudioPath = path
	h.report.DurationSeconds = seconds
}

// SetAudioPath updates where the recording ended up after the session.
func (h *Handle) SetAudioPath(path string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report.AudioPath = path
}

// SetUsage records token usage and cost when the backend reports them.
func (h *Handle) SetUsage(tokens *int, cost *float64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report.TokenCount = tokens
	h.report.EstimatedCost = cost
}

// Finish computes the derived figures, logs the report and returns it.
// Subsequent calls return nil.
func (h *Handle) Finish() *Report {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return nil
	}
	h.finished = true
	r := h.report
	r.Checkpoints = append([]Checkpoint(nil), h.report.Checkpoints...)
	h.mu.Unlock()

	if started, ok := offsetOf(r.Checkpoints, CheckpointTranscribeStarted); ok {
		if done, ok := offsetOf(r.Checkpoints, CheckpointTranscribeFinished); ok && done >= started {
			r.TranscriptionSeconds = (done - started).Seconds()
		}
	}
	if r.DurationSeconds > 0 {
		r.RealtimeFactor = r.TranscriptionSeconds / r.DurationSeconds
	}

	c := h.collector
	c.mu.Lock()
	c.last = &r
	c.mu.Unlock()

	c.logReport(&r)
	return &r
}

func offsetOf(cps []Checkpoint, name string) (time.Duration, bool) {
	for _, cp := range cps {
		if cp.Name == name {
			return cp.Offset, true
		}
	}
	return 0, false
}

func (c *DebugCollector) logReport(r *Report) {
	ev := c.log.Info().
		Str("session_id", r.SessionID).
		Str("engine", r.Backend).
		Str("model", r.Model).
		Float64("audio_duration_s", r.DurationSeconds).
		Float64("transcription_time_s", r.TranscriptionSeconds).
		Float64("realtime_factor", r.RealtimeFactor).
		Float64("speed_multiplier", r.SpeedMultiplier())
	if r.AudioPath != "" {
		ev = ev.Str("audio_path", r.AudioPath)
	}
	if r.TokenCount != nil {
		ev = ev.Int("tokens_total", *r.TokenCount)
		if r.DurationSeconds > 0 {
			ev = ev.Float64("tokens_per_second", float64(*r.TokenCount)/r.DurationSeconds)
		}
	}
	if r.EstimatedCost != nil {
		ev = ev.Float64("cost_usd", *r.EstimatedCost)
	}
	for _, cp := range r.Checkpoints {
		ev = ev.Int64("t_"+cp.Name+"_ms", cp.OffsetMs)
	}
	ev.Msg("session debug report")
}
