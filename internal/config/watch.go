// internal/config/watch.go
//
// Debug-flag watcher.
//
// Settings are immutable, so toggling data/ACTIVATE_DEBUG_MODE while the
// process runs has no effect until restart.  WatchDebugFlag notices the
// toggle and reports it so operators are not left guessing.  The parent
// directory is watched rather than the file because the flag is usually
// created and deleted, not written.
package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchDebugFlag blocks until ctx is done, calling onChange with the new
// flag state whenever it differs from the state Settings was built with.
// A nil onChange logs a warning instead.
func WatchDebugFlag(ctx context.Context, s *Settings, log *zap.Logger, onChange func(debug bool)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(s.Paths.DebugFlag)
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Debug("watching debug flag", zap.String("path", s.Paths.DebugFlag))

	if onChange == nil {
		onChange = func(debug bool) {
			log.Warn("debug flag changed, restart to apply",
				zap.Bool("running", s.Debug), zap.Bool("flag", debug))
		}
	}

	last := s.Debug
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.Paths.DebugFlag) {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			now := fileExists(s.Paths.DebugFlag)
			if now != last {
				last = now
				onChange(now)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error("debug flag watcher", zap.Error(err))
		}
	}
}
