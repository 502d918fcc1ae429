package database

import "context"

// InitSchema applies the schema on a fresh file. The "transcriptions" table
// is the proxy for whether schema.sql has been loaded; if present it's a
// no-op. There is no migration step.
func (db *DB) InitSchema(ctx context.Context, schemaSQL []byte) error {
	var n int
	err := db.SQL.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'transcriptions'`,
	).Scan(&n)
	if err != nil {
		return storageErr("inspect schema", err)
	}

	if n > 0 {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh history file detected, applying schema")
	if _, err := db.SQL.ExecContext(ctx, string(schemaSQL)); err != nil {
		return storageErr("apply schema", err)
	}
	db.log.Info().Msg("schema applied successfully")
	return nil
}
