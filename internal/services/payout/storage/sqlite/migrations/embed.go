package migrations

import "embed"

// FS contains embedded SQLite migrations for payout storage.
//
//go:embed *.sql
var FS embed.FS
