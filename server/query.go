package server

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/ndlib/cdxd/index"
)

// lookup resolves the :collection parameter to an existing index, or
// writes a 404 and returns nil.
func (s *RESTServer) lookup(w http.ResponseWriter, ps httprouter.Params) *index.Index {
	ix, err := s.Store.Get(ps.ByName("collection"))
	if errors.Cause(err) == index.ErrNoSuchCollection {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Collection does not exist\n")
		return nil
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil
	}
	return ix
}

// QueryHandler handles GET /:collection. With a url parameter it
// streams the matching captures as CDX lines, oldest first, filtered
// for the requested access point (default "public"). Without one it
// shows a collection status page.
func (s *RESTServer) QueryHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ix := s.lookup(w, ps)
	if ix == nil {
		return
	}
	url := r.FormValue("url")
	if url == "" {
		s.detailsPage(w, ix)
		return
	}

	accessPoint := r.FormValue("accesspoint")
	if accessPoint == "" {
		accessPoint = "public"
	}
	res, err := ix.Query(url, ix.Access.Filter(accessPoint, time.Now()))
	if err != nil {
		raven.CaptureError(err, nil)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer res.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	n := 0
	for res.Next() {
		fmt.Fprintln(w, res.Capture().String())
		n++
	}
	if err := res.Err(); err != nil {
		// the status line is already written if anything was
		// streamed, so the most we can do is truncate and log
		raven.CaptureError(err, map[string]string{"Collection": ix.Name})
		log.Println("query:", err)
		if n == 0 {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	xQueries.Add(1)
}

var detailsTemplate = template.Must(template.New("details").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Name}}</title></head>
<body>
<h1>Collection {{.Name}}</h1>
<ul>
<li>Captures: about {{.Stats.CaptureBytes}} bytes</li>
<li>Aliases: about {{.Stats.AliasBytes}} bytes</li>
<li>Access rules: {{.Rules}}</li>
<li>Access policies: {{.Policies}}</li>
</ul>
<p>Query with <code>GET /{{.Name}}?url={url}</code>.</p>
<pre>{{.DBStats}}</pre>
</body>
</html>
`))

func (s *RESTServer) detailsPage(w http.ResponseWriter, ix *index.Index) {
	detailsTemplate.Execute(w, struct {
		Name     string
		Stats    index.Stats
		Rules    int
		Policies int
		DBStats  string
	}{
		Name:     ix.Name,
		Stats:    ix.Stats(),
		Rules:    len(ix.Access.Rules()),
		Policies: len(ix.Access.Policies()),
		DBStats:  s.Store.Property("leveldb.stats"),
	})
}
