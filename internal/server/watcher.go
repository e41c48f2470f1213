package server

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange after ref activity in gitDir settles for debounce.
// It watches the git directory itself (packed-refs) and every directory under
// refs/heads, adding new branch directories as they appear. Watch blocks until
// ctx is done.
func Watch(ctx context.Context, gitDir string, debounce time.Duration, logger *log.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(gitDir); err != nil {
		return err
	}
	headsDir := filepath.Join(gitDir, "refs", "heads")
	if err := addTree(watcher, headsDir); err != nil {
		return err
	}
	logger.Info("watching repository for branch changes", "gitdir", gitDir)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 && strings.HasPrefix(event.Name, headsDir) {
				// New nested branch directory such as refs/heads/feature/.
				if err := addTree(watcher, event.Name); err != nil {
					logger.Debug("failed to watch new directory", "path", event.Name, "err", err)
				}
			}
			if shouldIgnoreEvent(event, gitDir) {
				continue
			}

			logger.Debug("change detected", "path", event.Name, "op", event.Op.String())

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounce, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "err", err)
		}
	}
}

// addTree watches root and all directories below it.
func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// shouldIgnoreEvent keeps only events that can change the set of branch tips.
func shouldIgnoreEvent(event fsnotify.Event, gitDir string) bool {
	base := filepath.Base(event.Name)

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	if strings.HasSuffix(base, ".lock") {
		return true
	}
	if filepath.Dir(event.Name) == filepath.Clean(gitDir) {
		return base != "packed-refs"
	}

	return false
}
