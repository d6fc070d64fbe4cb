package server

import (
	"html/template"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Version is the version string reported by the server. It is
// overwritten at link time for release builds.
var Version = "devel"

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<head><title>cdxd</title></head>
<body>
<h1>cdxd ({{.Version}})</h1>
<p>This is a capture index server. Collections:</p>
<ul>
{{range .Collections}}<li><a href="/{{.}}">{{.}}</a></li>
{{else}}<li>(none yet)</li>
{{end}}</ul>
<p>Query a collection with <code>GET /{collection}?url={url}</code>.
Load CDX records by POSTing them to <code>/{collection}</code>.</p>
</body>
</html>
`))

// WelcomeHandler handles the GET / route. It lists the collections
// held by the datastore.
func (s *RESTServer) WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	names, err := s.Store.ListCollections()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	welcomeTemplate.Execute(w, struct {
		Version     string
		Collections []string
	}{Version, names})
}
