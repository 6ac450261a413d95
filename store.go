package main

import (
	"github.com/listinvest/stash/store"
	"github.com/listinvest/stash/store/fs"
	"github.com/listinvest/stash/store/mem"
	"github.com/listinvest/stash/store/redis"
	"github.com/pkg/errors"
)

// makeStore creates a new store.Store instance
// according to configuration options.
func (a *App) makeStore() (store.Store, error) {
	switch a.cfg.Storage {
	case "redis":
		var storeCfg redis.Config
		if err := ko.Unmarshal("store", &storeCfg); err != nil {
			return nil, errors.Wrap(err, "error unmarshalling 'store' config")
		}
		return redis.New(storeCfg)

	case "memory":
		var storeCfg mem.Config
		if err := ko.Unmarshal("store", &storeCfg); err != nil {
			return nil, errors.Wrap(err, "error unmarshalling 'store' config")
		}
		return mem.New(storeCfg)

	case "fs":
		var storeCfg fs.Config
		if err := ko.Unmarshal("store", &storeCfg); err != nil {
			return nil, errors.Wrap(err, "error unmarshalling 'store' config")
		}
		return fs.New(storeCfg, a.logger)
	}

	return nil, errors.Errorf("app.storage must be one of redis|memory|fs, got %q", a.cfg.Storage)
}
