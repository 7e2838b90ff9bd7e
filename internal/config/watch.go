package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Snapshot is an atomically-swappable read-only configuration handle.
// cmd/herbie reads it once, at startup, to build the Agent; a snapshot
// that WatchFile publishes later is stored here but does not reach the
// running components.
type Snapshot struct {
	v atomic.Value // Config
}

// NewSnapshot creates a Snapshot seeded with the given Config.
func NewSnapshot(cfg Config) *Snapshot {
	s := &Snapshot{}
	s.v.Store(cfg)
	return s
}

// Get returns the current configuration.
func (s *Snapshot) Get() Config {
	return s.v.Load().(Config)
}

func (s *Snapshot) set(cfg Config) {
	s.v.Store(cfg)
}

// WatchFile reloads the file at path into snapshot whenever it changes
// on disk, logging and discarding any snapshot that fails validation so
// a bad edit never takes effect. It stops when stop is closed. Optional:
// the spec describes hot-reload as "optional" (§6 Configuration).
func WatchFile(path string, snapshot *Snapshot, log *logrus.Logger, stop <-chan struct{}) error {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.WithError(err).Warn("config: reload rejected, keeping previous snapshot")
					continue
				}
				snapshot.set(cfg)
				log.Info("config: reloaded from disk")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config: watcher error")
			}
		}
	}()
	return nil
}
