// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
)

// Viewer template assets, treated as opaque bytes.
//
//go:embed viewer/index.html viewer/index.js viewer/index.css
var viewerAssets embed.FS

// EncodeHTML renders the viewer for the table. The bundled form inlines the
// style, script and a base64 SOG scene into a single index.html; the
// unbundled form emits index.html, index.js, index.css and <base>.sog as
// separate files. outName is the requested .html path, used to derive the
// sibling scene name.
func EncodeHTML(dt *DataTable, outName string, opts Options) (map[string][]byte, error) {
	opts = opts.defaults()

	sogFiles, err := EncodeSog(dt, opts)
	if err != nil {
		return nil, err
	}
	var sog bytes.Buffer
	if err := WriteSogBundle(&sog, sogFiles); err != nil {
		return nil, err
	}

	page, err := viewerAssets.ReadFile("viewer/index.html")
	if err != nil {
		return nil, err
	}
	script, err := viewerAssets.ReadFile("viewer/index.js")
	if err != nil {
		return nil, err
	}
	style, err := viewerAssets.ReadFile("viewer/index.css")
	if err != nil {
		return nil, err
	}

	settings := "{}"
	if len(opts.ViewerSettings) > 0 {
		settings = string(opts.ViewerSettings)
	}

	html := string(page)
	if opts.Unbundled {
		base := strings.TrimSuffix(path.Base(outName), path.Ext(outName))
		sceneName := base + ".sog"

		html = strings.Replace(html, "<!--__STYLE__-->",
			`<link rel="stylesheet" href="index.css">`, 1)
		html = strings.Replace(html, "<!--__SCRIPT__-->",
			`<script type="module" src="index.js"></script>`, 1)
		html = strings.Replace(html, `"__SOG_DATA__"`, `""`, 1)
		html = strings.Replace(html, "__SETTINGS__",
			mergeSceneURL(settings, sceneName), 1)

		return map[string][]byte{
			path.Base(outName): []byte(html),
			"index.js":         script,
			"index.css":        style,
			sceneName:          sog.Bytes(),
		}, nil
	}

	html = strings.Replace(html, "<!--__STYLE__-->",
		"<style>\n"+string(style)+"</style>", 1)
	html = strings.Replace(html, "<!--__SCRIPT__-->",
		`<script type="module">`+"\n"+string(script)+"</script>", 1)
	html = strings.Replace(html, "__SOG_DATA__",
		base64.StdEncoding.EncodeToString(sog.Bytes()), 1)
	html = strings.Replace(html, "__SETTINGS__", settings, 1)

	return map[string][]byte{path.Base(outName): []byte(html)}, nil
}

// mergeSceneURL injects the scene url into the settings document without
// reshaping the user's JSON.
func mergeSceneURL(settings, sceneName string) string {
	trimmed := strings.TrimSpace(settings)
	entry := fmt.Sprintf("\"url\":%q", sceneName)
	if trimmed == "{}" || trimmed == "" {
		return "{" + entry + "}"
	}
	if strings.HasPrefix(trimmed, "{") {
		return "{" + entry + "," + strings.TrimPrefix(trimmed, "{")
	}
	return trimmed
}
