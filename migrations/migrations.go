// Package migrations embeds the SQL schema for each supported database.
package migrations

import "embed"

// Migration files are embedded at compile time so the binary ships its own
// schema. Files run in filename order; applied files must never be edited.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
