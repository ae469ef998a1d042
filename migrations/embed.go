// Package migrations carries the tracking schema as embedded SQL, so the
// postgres backend can bootstrap itself from any working directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in lexical order
// (001_initial.sql first).
//
//go:embed *.sql
var FS embed.FS
