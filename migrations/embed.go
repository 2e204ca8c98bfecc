// Package migrations embeds the registry schema into the binary.
package migrations

import "embed"

// FS holds the *.sql migrations, at its root.
//
//go:embed *.sql
var FS embed.FS
