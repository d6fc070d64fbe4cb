package server

import (
	"bufio"
	"expvar"
	"fmt"
	"net/http"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/cdxd/cdx"
)

var (
	xCaptures = expvar.NewInt("captures.added")
	xAliases  = expvar.NewInt("aliases.added")
	xQueries  = expvar.NewInt("queries.served")
)

// a CDX line can carry very long URLs
const maxLineLength = 1024 * 1024

// IngestHandler handles POST /:collection. The body is a sequence of
// newline separated CDX records and "@alias <url> <url>" directives.
// The whole body is applied atomically; any malformed line rejects
// the batch and reports the offending line. Posting to an unknown
// collection creates it.
func (s *RESTServer) IngestHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.ingate <- struct{}{}
	defer func() { <-s.ingate }()

	ix, err := s.Store.GetOrCreate(ps.ByName("collection"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	batch := ix.BeginUpdate()
	var captures, aliases int
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			// skip blank lines
		case strings.HasPrefix(line, " CDX"):
			// header line of a CDX file
		case strings.HasPrefix(line, "@alias "):
			fields := strings.Split(line, " ")
			if len(fields) != 3 {
				batch.Discard()
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprintf(w, "Invalid alias\nAt line: %s\n", line)
				return
			}
			batch.PutAlias(fields[1], fields[2])
			aliases++
		default:
			c, err := cdx.ParseCdxLine(line)
			if err != nil {
				batch.Discard()
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprintf(w, "%s\nAt line: %s\n", err, line)
				return
			}
			batch.PutCapture(c)
			captures++
		}
	}
	if err := scanner.Err(); err != nil {
		batch.Discard()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := batch.Commit(); err != nil {
		raven.CaptureError(err, map[string]string{"Collection": ix.Name})
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	xCaptures.Add(int64(captures))
	xAliases.Add(int64(aliases))
	fmt.Fprintf(w, "Added %d records\n", captures+aliases)
}
