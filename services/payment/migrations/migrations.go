// Package migrations embeds the payment schema. Files are applied in name
// order by database.RunMigrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
