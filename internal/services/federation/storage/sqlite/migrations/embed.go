package migrations

import "embed"

// FS contains embedded SQLite migrations for federation storage.
//
//go:embed *.sql
var FS embed.FS
