// Package migrations embeds the schema of the SQLite preferences store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
