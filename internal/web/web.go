// Package web provides the embedded chat UI.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
)

//go:embed static
var staticFS embed.FS

// Handler returns an http.Handler serving the embedded UI. Requests
// for "/" resolve to static/index.html.
func Handler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// Cannot happen with a compile-time embed, fail fast if it does.
		panic(fmt.Sprintf("web: failed to create sub-filesystem: %v", err))
	}
	return http.FileServer(http.FS(sub))
}
