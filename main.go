// Stash, August 2026
// License AGPL3

package main

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	rice "github.com/GeertJohan/go.rice"
	"github.com/alecthomas/units"
	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/listinvest/stash/internal/hub"
	flag "github.com/spf13/pflag"
	"golang.org/x/crypto/acme/autocert"
)

var (
	logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
	ko     = koanf.New(".")

	// Version of the build injected at build time.
	buildString = "unknown"
)

// App is the global app context that's passed around.
type App struct {
	hub    *hub.Hub
	cfg    *hub.Config
	logger *log.Logger
}

func loadConfig() {
	// Register --help handler.
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.StringSlice("config", []string{"config.toml"},
		"Path to one or more TOML config files to load in order. It loads the embedded default configuration file by default.")
	f.Bool("new-config", false, "generate sample config file")
	f.Bool("new-unit", false, "generate systemd unit file")
	f.Bool("version", false, "Show build version")
	f.Parse(os.Args[1:])

	// Display version.
	if ok, _ := f.GetBool("version"); ok {
		fmt.Println(buildString)
		os.Exit(0)
	}

	// Generate new config.
	if ok, _ := f.GetBool("new-config"); ok {
		if err := newConfigFile(); err != nil {
			logger.Println(err)
			os.Exit(1)
		}
		logger.Println("generated config.toml. Edit and run the app.")
		os.Exit(0)
	}

	// Generate new unit.
	if ok, _ := f.GetBool("new-unit"); ok {
		if err := newUnitFile(); err != nil {
			logger.Println(err)
			os.Exit(1)
		}
		logger.Println("generated stash.service. Edit and install the service.")
		os.Exit(0)
	}

	// Read the config files.
	cFiles, _ := f.GetStringSlice("config")
	for _, f := range cFiles {
		if _, err := os.Stat(f); len(cFiles) == 1 && f == "config.toml" && os.IsNotExist(err) {
			continue
		}
		logger.Printf("reading config: %s", f)
		if err := ko.Load(file.Provider(f), toml.Parser()); err != nil {
			if os.IsNotExist(err) {
				logger.Fatal("config file not found. If there isn't one yet, run --new-config to generate one.")
			}
			logger.Fatalf("error loading config from file: %v.", err)
		}
	}

	// Load the default configuration file.
	if len(cFiles) < 1 {
		logger.Printf("loading default configuration from embedded assets")
		sampleBox := rice.MustFindBox("static/samples")
		b, err := sampleBox.Bytes("config.toml")
		if err != nil {
			logger.Fatalf("error reading embedded asset %q: %v.", "static/samples/config.toml", err)
		}
		if err := ko.Load(rawbytes.Provider(b), toml.Parser()); err != nil {
			logger.Fatalf("error loading default configuration file: %v.", err)
		}
	}

	// Merge env flags into config.
	if err := ko.Load(env.Provider("STASH_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "STASH_")), "__", ".", -1)
	}), nil); err != nil {
		logger.Printf("error loading env config: %v", err)
	}

	// Merge command line flags into config.
	ko.Load(posflag.Provider(f, ".", ko), nil)
}

func main() {
	// Load configuration from files.
	loadConfig()

	// Begin listening.
	lnAddr := ko.String("app.address")
	ln, err := net.Listen("tcp", lnAddr)
	if err != nil {
		logger.Fatalf("couldn't listen address %q: %v", lnAddr, err)
	}

	// Initialize global app context.
	app := &App{
		logger: logger,
	}
	if err := ko.Unmarshal("app", &app.cfg); err != nil {
		logger.Fatalf("error unmarshalling 'app' config: %v", err)
	}

	// Frame size limit, e.g. "64KiB".
	maxLen := ko.String("app.max_message_size")
	if maxLen == "" {
		maxLen = "64KiB"
	}
	b, err := units.ParseBase2Bytes(maxLen)
	if err != nil {
		logger.Fatalf("couldn't parse app.max_message_size %q: %v", maxLen, err)
	}
	app.cfg.MaxMessageLen = int(b)

	minTime := time.Duration(3) * time.Second
	if app.cfg.WSTimeout < minTime {
		logger.Fatal("app.websocket_timeout should be > 3s")
	}

	// Initialize the store. If the backend isn't available, the process
	// dies here, before the listener is registered: requesters never see
	// a ready frame and the endpoint never becomes reachable.
	store, err := app.makeStore()
	if err != nil {
		logger.Fatalf("failed to create the store instance: %v", err)
	}

	h, err := hub.NewHub(app.cfg, store, logger)
	if err != nil {
		logger.Fatalf("error initializing hub: %v", err)
	}
	app.hub = h

	// Register HTTP routes.
	r := chi.NewRouter()
	r.Get("/", handleIndex(app))
	r.Get("/ws", handleWS(app))

	// API.
	r.Get("/api/status", handleStatus(app))

	srv := http.Server{
		Handler: r,
	}
	var sslCfg sslCfg
	if err := ko.Unmarshal("ssl", &sslCfg); err != nil {
		logger.Fatalf("error unmarshalling 'ssl' config: %v", err)
	}

	var certManager autocert.Manager
	if sslCfg.Enabled && sslCfg.Kind == "letsencrypt" {
		var sslStorage autocert.Cache
		if sslCfg.Storage == "disk" {
			if sslCfg.Path == "" {
				sslCfg.Path = "certs"
			}
			sslStorage = autocert.DirCache(sslCfg.Path)
		} else {
			sslStorage = sslStore{prefix: "SSL:", store: store}
		}
		certManager = autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(sslCfg.Domains...),
			Cache:      sslStorage,
			Email:      sslCfg.Email,
		}
		srv.Handler = certManager.HTTPHandler(handleHTTPRedirect(sslPort(sslCfg), srv.Handler))
	}

	logger.Printf("starting server on http://%v", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil {
			logger.Fatalf("couldn't serve: %v", err)
		}
	}()

	if sslCfg.Enabled {
		sln, err := net.Listen("tcp", sslAddr(sslCfg))
		if err != nil {
			logger.Fatalf("couldn't listen address %q: %v", sslAddr(sslCfg), err)
		}
		ssrv := http.Server{
			Handler: r,
		}
		if sslCfg.Kind == "letsencrypt" {
			tlsConfig := certManager.TLSConfig()
			tlsConfig.GetCertificate = certManager.GetCertificate
			ssrv.TLSConfig = tlsConfig
		}
		logger.Printf("starting server on https://%v", sln.Addr().String())
		go func() {
			var err error
			if sslCfg.Kind == "files" {
				err = ssrv.ServeTLS(sln, sslCfg.Certificate, sslCfg.PrivateKey)
			} else {
				err = ssrv.ServeTLS(sln, "", "")
			}
			if err != nil {
				logger.Fatalf("couldn't tls serve: %v", err)
			}
		}()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	var cFiles []string
	ko.Unmarshal("config", &cFiles)
	select {
	case <-fileWatcher(cFiles...):
	case sig := <-c:
		logger.Printf("shutting down: %v", sig)
	}
	go func() {
		d := time.Second * 10
		<-time.After(d)
		logger.Printf("%v elapsed... quitting now", d)
		os.Exit(1)
	}()
}

func fileWatcher(files ...string) chan struct{} {
	out := make(chan struct{})
	if len(files) < 1 {
		return out
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Printf("failed to initialize configuration file watcher: %v", err)
		return out
	}
	for _, f := range files {
		if err := watcher.Add(f); err != nil {
			logger.Printf("failed to add configuration file %q watcher: %v", f, err)
		}
	}
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				logger.Printf("configuration file %q was modified", event.Name)
				out <- struct{}{}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("watcher error: %v", err)
			}
		}
	}()
	return out
}
