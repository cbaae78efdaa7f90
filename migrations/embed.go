// Package migrations holds the versioned SQL schema compiled into the server.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
