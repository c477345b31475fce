// Package migrations embeds the SQL migration set discovered by
// storage.NewMigrator at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
