package otis

import _ "embed"

// SchemaSQL creates the two history tables on a fresh database file.
//
//go:embed schema.sql
var SchemaSQL []byte
