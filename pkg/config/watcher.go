package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and publishes the
// new confidence gates. Gates are the only setting that may change at
// runtime; everything else requires a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onGates func(GateConfig)
}

// NewWatcher watches path and calls onGates with the reloaded gate values
// after every valid rewrite of the file. Invalid rewrites are logged and the
// previous gates stay in effect.
func NewWatcher(path string, onGates func(GateConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	// Watch the directory: editors replace the file, which drops a direct watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return &Watcher{path: path, watcher: fw, onGates: onGates}, nil
}

// Run processes filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Printf("config reload rejected: %v", err)
				continue
			}
			log.Printf("config reloaded: gates to_synth=%.2f to_premium=%.2f",
				cfg.Gates.ToSynth, cfg.Gates.ToPremium)
			w.onGates(cfg.Gates)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watch error: %v", err)
		}
	}
}
