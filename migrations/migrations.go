// Package migrations embeds the SQL schema files so binaries can apply
// them without a checkout.
package migrations

import "embed"

// FS holds every *.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
