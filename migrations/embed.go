// Package migrations embeds the PostgreSQL schema so the server binary can
// migrate a tenant without the source tree.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
