package database

import "embed"

// Migration files are embedded so production binaries carry their own schema.
//
//go:embed migrations
var migrationsFS embed.FS
