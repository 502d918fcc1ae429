package session

import (
	"sync"
	"time"

	"github.com/otis-dictation/otis/internal/capture"
	"github.com/otis-dictation/otis/internal/metrics"
	"github.com/otis-dictation/otis/internal/settings"
	"github.com/otis-dictation/otis/internal/transcribe"
)

// State is the machine's dictation state.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
)

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// stopCancel marks a session discarded by Cancel.
const stopCancel capture.StopReason = "cancel"

// Result is delivered once per session when it returns to idle.
type Result struct {
	SessionID            string
	Outcome              Outcome
	StopReason           capture.StopReason
	Backend              transcribe.BackendID
	Text                 string
	RecordID             int64 // 0 when no record was written
	DurationSeconds      float64
	TranscriptionSeconds float64
	StartedAt            time.Time
	FinishedAt           time.Time

	// Err is the session failure: *CaptureError or *transcribe.BackendError.
	Err error
	// Warning is a non-fatal failure, such as a history write error on an
	// otherwise successful session.
	Warning error

	// Debug is set only when debug mode was on for the session.
	Debug *metrics.Report
}

// Session is the single in-flight dictation.
type Session struct {
	ID        string
	StartedAt time.Time
	Backend   transcribe.Descriptor
	AudioPath string

	settings settings.Settings
	provider transcribe.Provider
	handle   capture.Handle
	debug    *metrics.Handle

	// stopped is closed when Stop or Cancel wins the recording transition.
	stopped    chan struct{}
	stopReason capture.StopReason

	done     chan struct{}
	doneOnce sync.Once
	result   Result
}

// Done is closed when the session has returned to idle and its history and
// telemetry writes are committed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns the session outcome. It blocks until Done is closed.
func (s *Session) Result() Result {
	<-s.done
	return s.result
}

// Status is a point-in-time view of the machine.
type Status struct {
	State          State                `json:"state"`
	SessionID      string               `json:"session_id,omitempty"`
	Backend        transcribe.BackendID `json:"backend,omitempty"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	ElapsedSeconds float64              `json:"elapsed_seconds,omitempty"`
}
