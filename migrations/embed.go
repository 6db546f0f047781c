// Package migrations embeds the Postgres schema: the durable event queue in
// FS and the pgvector document index in VectorFS.
package migrations

import (
	"embed"
	"io/fs"
)

// FS holds the queue migrations, applied in name order.
//
//go:embed *.sql
var FS embed.FS

//go:embed vector/*.sql
var vectorFS embed.FS

// VectorFS holds the document index migrations. They need the vector
// extension to be installable on the server.
var VectorFS = mustSub(vectorFS, "vector")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
