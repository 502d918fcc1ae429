package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// TranscriptionRow is the input for inserting a transcription.
type TranscriptionRow struct {
	CreatedAt       time.Time // zero means now
	Backend         string
	DurationSeconds float64
	Text            string
}

// Transcription is a stored transcription record.
type Transcription struct {
	ID              int64      `json:"id"`
	CreatedAt       time.Time  `json:"created_at"`
	Backend         string     `json:"backend"`
	DurationSeconds float64    `json:"duration_seconds"`
	Text            string     `json:"text"`
	SyncedAt        *time.Time `json:"synced_at,omitempty"`
}

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

// InsertTranscription appends one record and returns its id. The duration is
// stored rounded to two decimals; synced_at starts NULL.
func (db *DB) InsertTranscription(ctx context.Context, r TranscriptionRow) (int64, error) {
	res, err := db.SQL.ExecContext(ctx, `
		INSERT INTO transcriptions (created_at, backend, duration_seconds, text)
		VALUES (?, ?, ?, ?)`,
		unixMilli(r.CreatedAt), r.Backend, round2(r.DurationSeconds), r.Text,
	)
	if err != nil {
		return 0, storageErr("insert transcription", err)
	}
	id, err := res.LastInsertId()
	return id, storageErr("insert transcription", err)
}

// ListRecent returns up to n records, newest first.
func (db *DB) ListRecent(ctx context.Context, n int) ([]Transcription, error) {
	n = clampLimit(n, defaultRecentLimit, maxRecentLimit)
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, created_at, backend, duration_seconds, text, synced_at
		FROM transcriptions
		ORDER BY id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, storageErr("list transcriptions", err)
	}
	defer rows.Close()

	out := []Transcription{}
	for rows.Next() {
		t, err := scanTranscription(rows)
		if err != nil {
			return nil, storageErr("scan transcription", err)
		}
		out = append(out, t)
	}
	return out, storageErr("list transcriptions", rows.Err())
}

// GetTranscription returns one record or ErrNotFound.
func (db *DB) GetTranscription(ctx context.Context, id int64) (*Transcription, error) {
	row := db.SQL.QueryRowContext(ctx, `
		SELECT id, created_at, backend, duration_seconds, text, synced_at
		FROM transcriptions WHERE id = ?`, id)
	t, err := scanTranscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get transcription", err)
	}
	return &t, nil
}

// DeleteTranscription removes one record. Telemetry is untouched.
func (db *DB) DeleteTranscription(ctx context.Context, id int64) error {
	res, err := db.SQL.ExecContext(ctx, `DELETE FROM transcriptions WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete transcription", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete transcription", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearTranscriptions deletes every transcription record in one transaction
// and returns how many were removed. The telemetry table is never touched.
func (db *DB) ClearTranscriptions(ctx context.Context) (int64, error) {
	tx, err := db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("clear transcriptions", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM transcriptions`)
	if err != nil {
		return 0, storageErr("clear transcriptions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("clear transcriptions", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("clear transcriptions", err)
	}

	db.log.Info().Int64("deleted", n).Msg("transcription history cleared")
	return n, nil
}

// MarkSynced sets synced_at on the given records where it is still NULL.
// Each record is marked at most once; already-synced ids are skipped.
func (db *DB) MarkSynced(ctx context.Context, ids []int64, ts time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph, args := idPlaceholders(ids)
	args = append([]any{unixMilli(ts)}, args...)
	res, err := db.SQL.ExecContext(ctx,
		`UPDATE transcriptions SET synced_at = ? WHERE synced_at IS NULL AND id IN (`+ph+`)`,
		args...)
	if err != nil {
		return 0, storageErr("mark synced", err)
	}
	n, err := res.RowsAffected()
	return n, storageErr("mark synced", err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscription(s scanner) (Transcription, error) {
	var (
		t         Transcription
		createdAt int64
		syncedAt  sql.NullInt64
	)
	if err := s.Scan(&t.ID, &createdAt, &t.Backend, &t.DurationSeconds, &t.Text, &syncedAt); err != nil {
		return t, err
	}
	t.CreatedAt = time.UnixMilli(createdAt)
	t.SyncedAt = timePtr(syncedAt)
	return t, nil
}
