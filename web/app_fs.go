// Package web contains the rover's built in control page.
package web

import "embed"

// AppFS holds the control page and its scripts under static/.
//
//go:embed static
var AppFS embed.FS
