// Package migrations embeds the Postgres schema files applied by the
// migrate package.
package migrations

import "embed"

//go:embed postgres/*.up.sql
var Postgres embed.FS
