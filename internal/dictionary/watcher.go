package dictionary

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// ReloadCallback is called after the dictionary was replaced from the cache.
type ReloadCallback func(tags int)

// WatchCache follows the YAML snapshot of cache and replaces the contents of
// dict whenever the file is rewritten by someone else, until ctx is
// cancelled. Snapshots written through cache itself are skipped.
//
// The parent directory is watched rather than the file itself: the snapshot
// is replaced by rename, which would orphan a watch on the old inode.
func WatchCache(ctx context.Context, cache *FileCache, dict *Dictionary, logger *slog.Logger, cb ReloadCallback) error {
	target, err := cache.files.Abs(cache.name)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(target)); err != nil {
		return err
	}

	logger.Info("dictionary: watching cache", slog.String("path", target))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(reloadDebounce)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(reloadDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			logger.Info("dictionary: cache watcher stopped")
			return nil

		case <-reloadCh:
			data, readErr := cache.files.Read(cache.name)
			if readErr != nil {
				logger.Warn("dictionary: reload failed", slog.String("error", readErr.Error()))
				continue
			}
			if cache.ownWrite(data) {
				logger.Debug("dictionary: cache unchanged since own write")
				continue
			}
			defs, loadErr := cache.decode(data)
			if loadErr != nil {
				logger.Warn("dictionary: reload failed", slog.String("error", loadErr.Error()))
				continue
			}
			dict.Replace(defs)
			logger.Info("dictionary: reloaded from cache", slog.Int("tags", len(defs)))
			if cb != nil {
				cb(len(defs))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("dictionary: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
