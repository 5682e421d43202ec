// Package web embeds the portal's templates and browser assets.
package web

import "embed"

// Templates holds layouts, partials and pages.
//
//go:embed templates/layouts/*.html templates/partials/*.html templates/pages/*.html
var Templates embed.FS

// Static holds the stylesheet and the idle activity script.
//
//go:embed static
var Static embed.FS
