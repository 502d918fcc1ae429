package api

import (
	"context"

	"github.com/otis-dictation/otis/internal/database"
	"github.com/otis-dictation/otis/internal/events"
	"github.com/otis-dictation/otis/internal/metrics"
	"github.com/otis-dictation/otis/internal/session"
	"github.com/otis-dictation/otis/internal/settings"
	"github.com/otis-dictation/otis/internal/transcribe"
)

// Dictation is the session machine as seen by the API.
type Dictation interface {
	Start(ctx context.Context) (*session.Session, error)
	Stop() bool
	Cancel() bool
	Status() session.Status
	Current() *session.Session
	Last() (string, bool)
	CopyLast() (string, error)
}

// History is the history store as seen by the API.
type History interface {
	HealthCheck(ctx context.Context) error
	ListRecent(ctx context.Context, n int) ([]database.Transcription, error)
	GetTranscription(ctx context.Context, id int64) (*database.Transcription, error)
	DeleteTranscription(ctx context.Context, id int64) error
	ClearTranscriptions(ctx context.Context) (int64, error)
	GetStats(ctx context.Context) (*database.Stats, error)
}

// SettingsStore reads and mutates the user settings.
type SettingsStore interface {
	Current() settings.Settings
	Update(p settings.Patch) (settings.Settings, error)
	ResetToDefaults() (settings.Settings, error)
}

// BackendCatalog lists backends and resolves the active one.
type BackendCatalog interface {
	Statuses() []transcribe.Status
	ResolveActive(s settings.Settings) (transcribe.Descriptor, error)
}

// EventSource is the pub-sub bus behind the SSE stream.
type EventSource interface {
	Subscribe(filter events.Filter) (<-chan events.Event, func())
	ReplaySince(lastEventID string, filter events.Filter) []events.Event
	Publish(eventType string, payload any)
}

// RecorderProbe reports whether the capture tool is installed.
type RecorderProbe interface {
	Available() error
}

// DebugSource returns the most recent debug report.
type DebugSource interface {
	Last() *metrics.Report
}
