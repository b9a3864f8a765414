// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// SIGHUP-driven reload. Registered sources repopulate the store, and
// the store fans the change out to its listeners.

package control

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// ReloadSource repopulates part of a ConfigStore.
type ReloadSource func(*ConfigStore) error

// FileSource reads a flat JSON object from path on every reload.
func FileSource(path string) ReloadSource {
	return func(cs *ConfigStore) error { return cs.LoadJSONFile(path) }
}

// EnvSource reads prefixed environment variables on every reload.
func EnvSource(prefix string) ReloadSource {
	return func(cs *ConfigStore) error {
		cs.LoadEnv(prefix)
		return nil
	}
}

// WatchReload runs the sources once, then again on every SIGHUP until
// ctx is done. Source failures are logged and skipped.
func WatchReload(ctx context.Context, cs *ConfigStore, log *zap.Logger, sources ...ReloadSource) {
	reload := func() {
		for _, src := range sources {
			if err := src(cs); err != nil {
				log.Warn("config source failed", zap.Error(err))
			}
		}
	}
	reload()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				log.Info("reload signal received")
				reload()
			}
		}
	}()
}
