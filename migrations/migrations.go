// Package migrations embeds the SQL schema so binaries can apply it
// without shipping loose files.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
