package main

import (
	"context"
	"net"
	"net/http"

	"github.com/listinvest/stash/store"
)

type sslCfg struct {
	Enabled     bool     `koanf:"enabled"`
	Email       string   `koanf:"email"`
	Address     string   `koanf:"address"`
	Kind        string   `koanf:"kind"`
	PrivateKey  string   `koanf:"privatekey"`
	Certificate string   `koanf:"certificate"`
	Domains     []string `koanf:"domains"`
	Storage     string   `koanf:"storage"`
	Path        string   `koanf:"path"`
}

func sslAddr(cfg sslCfg) string {
	if cfg.Address != "" {
		return cfg.Address
	}
	return ":443"
}

func sslPort(cfg sslCfg) string {
	_, port, err := net.SplitHostPort(sslAddr(cfg))
	if err != nil {
		return "443"
	}
	return port
}

func handleHTTPRedirect(sslPort string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := r.URL
		if u.Scheme == "http" || u.Scheme == "" {
			h := u.Hostname()
			if h == "" {
				h = "localhost"
			}
			target := "https://" + h
			if sslPort != "443" {
				target += ":" + sslPort
			}
			target += u.RequestURI()
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sslStore implements autocert.Cache on top of a store.Store, so ACME
// certificates persist in the same backend as the relayed items.
type sslStore struct {
	prefix string
	store  store.Store
}

func (s sslStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.store.Get(s.prefix + key)
}

func (s sslStore) Put(ctx context.Context, key string, data []byte) error {
	return s.store.Set(s.prefix+key, data)
}

func (s sslStore) Delete(ctx context.Context, key string) error {
	return s.store.Delete(s.prefix + key)
}
