// cdxd is a capture index server for web archives. It stores CDX
// records per collection and answers canonical URL queries over HTTP,
// applying each collection's access control rules.
//
// Usage:
//
//	cdxd [-a oracle-url] [-b bind-host] [-d data-dir] [-i] [-p port]
//	     [-pprof port] [-v] [-config file]
//
// With -i the server does not open a socket and instead serves on the
// listener inherited as file descriptor 0, for use under a socket
// activating supervisor.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	raven "github.com/getsentry/raven-go"

	"github.com/ndlib/cdxd/access"
	"github.com/ndlib/cdxd/cdx"
	"github.com/ndlib/cdxd/index"
	"github.com/ndlib/cdxd/server"
)

// config mirrors the command line flags. Flags given explicitly
// override values from the config file.
type config struct {
	OracleURL string `toml:"oracle_url"`
	BindHost  string `toml:"bind_host"`
	DataDir   string `toml:"data_dir"`
	Inherit   bool   `toml:"inherit_socket"`
	Port      string `toml:"port"`
	PProfPort string `toml:"pprof_port"`
	Verbose   bool   `toml:"verbose"`
}

func main() {
	var (
		oracleURL  = flag.String("a", "", "URL of an access oracle consulted on every capture")
		bindHost   = flag.String("b", "", "host or address to bind to (default all)")
		dataDir    = flag.String("d", "data", "location of the index directory")
		inherit    = flag.Bool("i", false, "serve on the socket inherited as fd 0")
		port       = flag.String("p", "8080", "port to listen on")
		pprofPort  = flag.String("pprof", "", "port to serve pprof and expvar data on")
		verbose    = flag.Bool("v", false, "log each request")
		configFile = flag.String("config", "", "path to a TOML configuration file")
	)
	flag.Parse()

	cfg := config{
		OracleURL: *oracleURL,
		BindHost:  *bindHost,
		DataDir:   *dataDir,
		Inherit:   *inherit,
		Port:      *port,
		PProfPort: *pprofPort,
		Verbose:   *verbose,
	}
	if *configFile != "" {
		fileCfg := cfg
		if _, err := toml.DecodeFile(*configFile, &fileCfg); err != nil {
			log.Fatalf("Error reading %s: %s", *configFile, err)
		}
		// command line flags win over the file
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "a":
				fileCfg.OracleURL = cfg.OracleURL
			case "b":
				fileCfg.BindHost = cfg.BindHost
			case "d":
				fileCfg.DataDir = cfg.DataDir
			case "i":
				fileCfg.Inherit = cfg.Inherit
			case "p":
				fileCfg.Port = cfg.Port
			case "pprof":
				fileCfg.PProfPort = cfg.PProfPort
			case "v":
				fileCfg.Verbose = cfg.Verbose
			}
		})
		cfg = fileCfg
	}

	var filter cdx.Predicate
	if cfg.OracleURL != "" {
		log.Println("Using access oracle at", cfg.OracleURL)
		filter = access.OracleFilter(cfg.OracleURL)
	}

	log.Println("Using data dir", cfg.DataDir)
	store, err := index.Open(cfg.DataDir, filter)
	if err != nil {
		raven.CaptureErrorAndWait(err, nil)
		log.Fatal(err)
	}

	s := &server.RESTServer{
		Addr:      net.JoinHostPort(cfg.BindHost, cfg.Port),
		Store:     store,
		PProfPort: cfg.PProfPort,
		Verbose:   cfg.Verbose,
	}
	if cfg.Inherit {
		ln, err := net.FileListener(os.NewFile(0, "inherited"))
		if err != nil {
			log.Fatalf("Error using inherited socket: %s", err)
		}
		s.Listener = ln
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Stopping")
		signal.Stop(sig)
		s.Stop()
	}()

	err = s.Run()
	if err != nil {
		log.Println(err)
	}
	if err := store.Close(); err != nil {
		log.Println(err)
	}
}
