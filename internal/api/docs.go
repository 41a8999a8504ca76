package api

import (
	"html/template"
	"log/slog"
	"net/http"
)

var docsPage = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>{{.Title}}</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { margin: 0; font-family: sans-serif; }
    header { padding: 0.5rem 1rem; border-bottom: 1px solid #ddd; }
    header code { margin-right: 0.5rem; }
    elements-api { display: block; height: calc(100vh - 3rem); }
  </style>
</head>
<body>
  <header>
    <strong>{{.Title}}</strong>
    {{range .Portals}}<code>POST /api/v1/exports/{{.}}</code>{{end}}
  </header>
  <elements-api apiDescriptionUrl="/openapi.json" router="hash" layout="sidebar" hideSchemas />
</body>
</html>`))

// docsHandler renders the API reference with the configured portals listed
// above it.
func docsHandler(title string, svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data := struct {
			Title   string
			Portals []string
		}{Title: title, Portals: svc.Portals()}
		if err := docsPage.Execute(w, data); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	}
}
