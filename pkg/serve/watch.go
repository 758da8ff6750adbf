package serve

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tagcheck/tagcheck/pkg/rule"
)

// DefaultDebounce coalesces bursts of file events (editors often write a
// file several times) into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the rules whenever a rule file under paths changes, and
// reports each reload on the response stream as an unsolicited "reload"
// response. It blocks until ctx is done.
func (s *Server) Watch(ctx context.Context, paths []string, debounce time.Duration) error {
	if s.reloader == nil {
		return fmt.Errorf("reload is not enabled")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	for _, p := range paths {
		if err := addWatch(w, p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addWatch(w, ev.Name)
					continue
				}
			}
			if !rule.IsRuleFile(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			s.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("rule file changed")
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("rule watcher error")
		case <-timer.C:
			s.handleReload()
		}
	}
}

// addWatch watches a directory tree, or the directory holding a file.
func addWatch(w *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
