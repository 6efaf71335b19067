package jobsched

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	configDebounce      = 250 * time.Millisecond
	watchRestartInitial = 250 * time.Millisecond
	watchRestartMax     = 5 * time.Second
)

// WatchConfig calls apply with every valid new version of the config file
// until ctx ends. Editors write files in several steps, so changes are
// debounced; unparsable or unchanged versions are skipped. The watcher is
// recreated with backoff when fsnotify breaks.
//
// apply is never called concurrently with itself.
func WatchConfig(ctx context.Context, path string, log *zap.Logger, apply func(FileConfig)) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("path", path))
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	var (
		mu    sync.Mutex
		timer *time.Timer
		last  FileConfig
		have  bool
	)
	if cfg, err := LoadConfig(path); err == nil {
		last, have = cfg, true
	}

	reload := func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			log.Warn("config reload failed", zap.Error(err))
			return
		}
		if have && cfg == last {
			log.Debug("config unchanged")
			return
		}
		last, have = cfg, true
		apply(cfg)
		log.Info("config applied")
	}
	debounce := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(configDebounce, reload)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	bo := boff.New(watchRestartInitial, watchRestartMax, time.Now().UnixNano())
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := watchOnce(ctx, dir, file, log, debounce)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.Next()
		log.Warn("config watcher stopped; restarting", zap.Error(err), zap.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watchOnce runs one fsnotify watcher until it breaks or ctx ends.
func watchOnce(ctx context.Context, dir, file string, log *zap.Logger, changed func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Debug("config watcher started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fsnotify.ErrClosed
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fsnotify.ErrClosed
			}
			if err == fsnotify.ErrEventOverflow {
				log.Warn("config watch overflow; forcing reload")
				changed()
				continue
			}
			log.Warn("config watch error", zap.Error(err))
		}
	}
}
