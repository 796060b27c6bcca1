// Package migrations embeds the SQL schema for the sqlite digital twin
// adapter.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var files embed.FS

// FS holds the migration files at its root, ready for database.DB.Migrate.
var FS fs.FS = files
