package workflow

import (
	"context"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the loader cache whenever a file under one of the search
// paths changes. It blocks until the context is done.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, p := range l.paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			l.logger.Warn().Err(err).Str("path", p).Msg("cannot watch search path")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				l.logger.Info().Str("file", ev.Name).Msg("workflow definition changed, reloading")
				l.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn().Err(err).Msg("watch error")
		}
	}
}
