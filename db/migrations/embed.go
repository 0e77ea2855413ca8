// Package dbmigrations exposes embedded SQL migrations for Pulse binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into Pulse binaries.
//
//go:embed *.sql
var Files embed.FS
