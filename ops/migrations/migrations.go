// Package migrations embeds the schema migrations and seed files.
package migrations

import "embed"

//go:embed sql seeds
var Files embed.FS
