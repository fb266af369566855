package migrations

import "embed"

// FS contains embedded SQLite migrations for dm storage.
//
//go:embed *.sql
var FS embed.FS
