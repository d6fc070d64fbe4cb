package server

import (
	"expvar"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/cdxd/index"
)

// RESTServer holds the configuration for a cdxd REST API server.
//
// Set the public fields and then call Run. Run listens on the
// configured address and handles requests until Stop is called. Do not
// change any fields after calling Run.
type RESTServer struct {
	// Addr is the host:port to listen on. Defaults to ":8080".
	Addr string

	// Listener, if set, is used instead of opening a new socket. It
	// supports being handed an inherited socket by a supervisor.
	Listener net.Listener

	// Store is the datastore holding every collection. Run will
	// panic if Store is nil.
	Store *index.DataStore

	// PProfPort, if set, serves the pprof and expvar pages on a
	// second socket bound to this port.
	PProfPort string

	// Verbose enables per-request logging.
	Verbose bool

	server httpdown.Server
	ingate chan struct{} // bounds concurrent bulk ingests
}

// the number of bulk ingests allowed to run at once. Further POSTs
// wait their turn rather than stacking write batches in memory.
const MaxConcurrentIngests = 2

// Run starts the server. It blocks listening for and handling http
// requests until Stop is called.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting cdxd server version %s", Version)

	if s.Store == nil {
		panic("No datastore given. Store is nil.")
	}

	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}

	if s.Addr == "" {
		s.Addr = ":8080"
	}
	h := httpdown.HTTP{
		StopTimeout: 10 * time.Second,
		KillTimeout: time.Minute,
	}
	httpServer := &http.Server{
		Addr:    s.Addr,
		Handler: s.addRoutes(),
	}
	var err error
	if s.Listener != nil {
		log.Println("Listening on inherited socket", s.Listener.Addr())
		s.server = h.Serve(httpServer, s.Listener)
	} else {
		log.Println("Listening on", s.Addr)
		s.server, err = h.ListenAndServe(httpServer)
		if err != nil {
			log.Println(err)
			return err
		}
	}
	return s.server.Wait()
}

// Stop shuts down the listening socket and waits for in-flight
// requests to finish.
func (s *RESTServer) Stop() error {
	return s.server.Stop()
}

func (s *RESTServer) addRoutes() http.Handler {
	s.ingate = make(chan struct{}, MaxConcurrentIngests)
	var routes = []struct {
		method  string
		route   string
		handler httprouter.Handle
	}{
		{"GET", "/", s.WelcomeHandler},
		{"GET", "/:collection", s.QueryHandler},
		{"POST", "/:collection", s.IngestHandler},

		// access control administration
		{"GET", "/:collection/access/rules", s.ListRulesHandler},
		{"POST", "/:collection/access/rules", s.PutRuleHandler},
		{"GET", "/:collection/access/rules/:id", s.GetRuleHandler},
		{"DELETE", "/:collection/access/rules/:id", s.DeleteRuleHandler},
		{"GET", "/:collection/access/policies", s.ListPoliciesHandler},
		{"POST", "/:collection/access/policies", s.PutPolicyHandler},
		{"GET", "/:collection/access/policies/:id", s.GetPolicyHandler},
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method, route.route, s.logWrapper(route.handler))
	}
	return r
}

// VarHandler adapts the expvar default handler to the httprouter three
// parameter handler. No route registers it; the pprof side port serves
// the stdlib expvar handler at /debug/vars instead.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// logWrapper takes a handler and returns a handler which does the same
// thing, after first logging the request URL when verbose logging is
// on.
func (s *RESTServer) logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.Verbose {
			log.Println(r.Method, r.URL)
		}
		handler(w, r, ps)
	}
}
