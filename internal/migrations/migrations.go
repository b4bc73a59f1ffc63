package migrations

import "embed"

// Files contains SQL migrations embedded into the binary.
//
// Migrations use a flat naming convention (e.g., 001_init.sql) so the store
// package can list and apply them in lexical order via the returned embed.FS.
//
//go:embed *.sql
var Files embed.FS
