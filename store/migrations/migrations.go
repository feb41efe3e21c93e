// Package migrations embeds the SQLite schema of the local document store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
