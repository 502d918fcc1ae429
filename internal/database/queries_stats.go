package database

import "context"

// Stats contains row counts of both history tables.
type Stats struct {
	Transcriptions    int64   `json:"transcriptions"`
	Unsynced          int64   `json:"unsynced_transcriptions"`
	TelemetryEvents   int64   `json:"telemetry_events"`
	UnsyncedTelemetry int64   `json:"unsynced_telemetry"`
	TotalAudioSeconds float64 `json:"total_audio_seconds"`
}

// GetStats returns row counts for the history file.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := db.SQL.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM transcriptions),
			(SELECT count(*) FROM transcriptions WHERE synced_at IS NULL),
			(SELECT count(*) FROM telemetry_events),
			(SELECT count(*) FROM telemetry_events WHERE synced_at IS NULL),
			(SELECT coalesce(sum(duration_seconds), 0) FROM transcriptions)
	`).Scan(&s.Transcriptions, &s.Unsynced, &s.TelemetryEvents, &s.UnsyncedTelemetry, &s.TotalAudioSeconds)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	return &s, nil
}
