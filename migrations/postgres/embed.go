// Package migrations embeds SQL migration files.
package migrations

import "embed"

// FS contains the postgres migrations for the gate tables.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS where migrations live.
const Dir = "."
