// Package migrations embeds the SQL schema so the server can bootstrap its
// own tables without shipping loose files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
