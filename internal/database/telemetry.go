package database

import (
	"context"
	"database/sql"
	"time"
)

// Telemetry event types.
const (
	EventSessionStarted   = "session_started"
	EventSessionCompleted = "session_completed"
	EventSessionFailed    = "session_failed"
	EventSessionCancelled = "session_cancelled"
)

// Telemetry outcomes.
const (
	OutcomeStarted   = "started"
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeEmpty     = "empty"
	OutcomeCancelled = "cancelled"
)

// TelemetryEvent is one anonymous usage event. It carries no text, no audio
// and nothing typed by the user.
type TelemetryEvent struct {
	ID                int64      `json:"id"`
	CreatedAt         time.Time  `json:"created_at"`
	InstallationID    string     `json:"installation_id"`
	EventType         string     `json:"event_type"`
	Outcome           string     `json:"outcome"`
	Backend           string     `json:"backend,omitempty"`
	Family            string     `json:"family,omitempty"`
	Model             string     `json:"model,omitempty"`
	Language          string     `json:"language,omitempty"`
	AudioDuration     *float64   `json:"audio_duration,omitempty"`
	TranscriptionTime *float64   `json:"transcription_time,omitempty"`
	RealtimeFactor    *float64   `json:"realtime_factor,omitempty"`
	TokensTotal       *int       `json:"tokens_total,omitempty"`
	CostTotal         *float64   `json:"cost_total,omitempty"`
	ErrorKind         string     `json:"error_kind,omitempty"`
	SyncedAt          *time.Time `json:"synced_at,omitempty"`
}

const maxTelemetryBatch = 500

// InsertTelemetry appends one event and returns its id.
func (db *DB) InsertTelemetry(ctx context.Context, e TelemetryEvent) (int64, error) {
	res, err := db.SQL.ExecContext(ctx, `
		INSERT INTO telemetry_events (
			created_at, installation_id, event_type, outcome,
			backend, family, model, language,
			audio_duration, transcription_time, realtime_factor,
			tokens_total, cost_total, error_kind
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		unixMilli(e.CreatedAt), e.InstallationID, e.EventType, e.Outcome,
		e.Backend, e.Family, e.Model, e.Language,
		nullFloat(e.AudioDuration), nullFloat(e.TranscriptionTime), nullFloat(e.RealtimeFactor),
		nullInt(e.TokensTotal), nullFloat(e.CostTotal), e.ErrorKind,
	)
	if err != nil {
		return 0, storageErr("insert telemetry", err)
	}
	id, err := res.LastInsertId()
	return id, storageErr("insert telemetry", err)
}

// ListUnsyncedTelemetry returns successful events not yet synced, oldest
// first.
func (db *DB) ListUnsyncedTelemetry(ctx context.Context, limit int) ([]TelemetryEvent, error) {
	limit = clampLimit(limit, 100, maxTelemetryBatch)
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, created_at, installation_id, event_type, outcome,
			backend, family, model, language,
			audio_duration, transcription_time, realtime_factor,
			tokens_total, cost_total, error_kind, synced_at
		FROM telemetry_events
		WHERE synced_at IS NULL AND outcome = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, OutcomeSuccess, limit)
	if err != nil {
		return nil, storageErr("list telemetry", err)
	}
	defer rows.Close()

	out := []TelemetryEvent{}
	for rows.Next() {
		var (
			e                  TelemetryEvent
			createdAt          int64
			audio, txTime, rtf sql.NullFloat64
			tokens             sql.NullInt64
			cost               sql.NullFloat64
			syncedAt           sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &createdAt, &e.InstallationID, &e.EventType, &e.Outcome,
			&e.Backend, &e.Family, &e.Model, &e.Language,
			&audio, &txTime, &rtf, &tokens, &cost, &e.ErrorKind, &syncedAt); err != nil {
			return nil, storageErr("scan telemetry", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		e.AudioDuration = floatPtr(audio)
		e.TranscriptionTime = floatPtr(txTime)
		e.RealtimeFactor = floatPtr(rtf)
		e.TokensTotal = intPtr(tokens)
		e.CostTotal = floatPtr(cost)
		e.SyncedAt = timePtr(syncedAt)
		out = append(out, e)
	}
	return out, storageErr("list telemetry", rows.Err())
}

// MarkTelemetrySynced sets synced_at on events where it is still NULL.
func (db *DB) MarkTelemetrySynced(ctx context.Context, ids []int64, ts time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph, args := idPlaceholders(ids)
	args = append([]any{unixMilli(ts)}, args...)
	res, err := db.SQL.ExecContext(ctx,
		`UPDATE telemetry_events SET synced_at = ? WHERE synced_at IS NULL AND id IN (`+ph+`)`,
		args...)
	if err != nil {
		return 0, storageErr("mark telemetry synced", err)
	}
	n, err := res.RowsAffected()
	return n, storageErr("mark telemetry synced", err)
}
