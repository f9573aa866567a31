package web

import "embed"

// FS holds the live fix page served at / (HTML, CSS, JS).
//
//go:embed *.html *.css *.js
var FS embed.FS
