// Package migrations embeds SQL migration files for the optional Postgres
// mirror (internal/mirror). Embedded so they work regardless of working
// directory.
package migrations

import (
	"embed"
	"strings"
)

// FS is the embedded migrations filesystem.
// Contains all .sql files in this directory (e.g. 0001_mirror_schema.sql).
//
//go:embed *.sql
var FS embed.FS

// MirrorSchemaStatements returns the mirror schema's statements in
// execution order, split on the same semicolon-per-line convention the
// .sql files use. Applying them in order against an empty database
// produces the schema internal/mirror depends on.
func MirrorSchemaStatements() []string {
	data, err := FS.ReadFile("0001_mirror_schema.sql")
	if err != nil {
		return nil
	}

	var withoutComments strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		withoutComments.WriteString(line)
		withoutComments.WriteByte('\n')
	}

	var out []string
	for _, stmt := range strings.Split(withoutComments.String(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
