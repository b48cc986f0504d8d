// Copyright (c) 2025 HostPulse authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/h2non/filetype"
)

// the dashboard assets the browser must not have sniffed
var assetTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".mjs":  "application/javascript;charset=utf-8",
	".js":   "application/javascript;charset=utf-8",
	".css":  "text/css;charset=utf-8",
	".json": "application/json",
	".svg":  "image/svg+xml",
}

// AssetHandler serves the dashboard page and its script/style assets from
// fsys. "/" maps to index.html.
func AssetHandler(fsys fs.FS) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "cannot read asset", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType(name, data))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	}
}

func contentType(name string, data []byte) string {
	if ct, ok := assetTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	head := data
	if len(head) > 4100 {
		head = head[:4100]
	}
	// try using filetype lib to get more specific type
	if kind, _ := filetype.Match(head); kind != filetype.Unknown {
		return kind.MIME.Value
	}
	return http.DetectContentType(head)
}
