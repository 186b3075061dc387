// Package migrations embeds the SQL schema so the binary can create its
// audit database without files on disk.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
