// Package web embeds the static dashboard for serving from the Go binary.
//
// The dashboard is a hand-written single-page app over the REST API and
// WebSocket hub; everything lives under web/static/ and is embedded at
// compile time using go:embed.
//
// Usage in the API server:
//
//	import "github.com/quantfleet/ashare/web"
//	fs := web.DistFS()  // returns io/fs.FS rooted at static/
package web

import (
	"embed"
	"io/fs"
	"log"
)

//go:embed all:static
var dist embed.FS

// DistFS returns a filesystem rooted at the embedded static/ directory.
// This is ready to use with http.FileServerFS or http.FS.
func DistFS() fs.FS {
	sub, err := fs.Sub(dist, "static")
	if err != nil {
		log.Fatalf("web.DistFS: %v", err)
	}
	return sub
}
