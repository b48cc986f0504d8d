// Package web embeds the dashboard served when no static_dir is configured.
package web

import "embed"

//go:embed index.html index.mjs index.css
var Assets embed.FS
