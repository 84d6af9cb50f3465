// Package webui embeds the static dashboard served at the secret root.
package webui

import "embed"

//go:embed static
var staticFS embed.FS

// Index returns the dashboard page.
func Index() ([]byte, error) {
	return staticFS.ReadFile("static/index.html")
}
