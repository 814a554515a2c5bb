package cache

import (
	"context"
	"fmt"
	"path/filepath"

	"dndj/logger"

	"github.com/fsnotify/fsnotify"
)

// InventoryWatcher keeps a ContentCache index equal to its directory when
// files are added or removed by something other than the cache itself.
type InventoryWatcher struct {
	cache   *ContentCache
	watcher *fsnotify.Watcher
}

// NewInventoryWatcher starts watching the cache's download directory.
func NewInventoryWatcher(c *ContentCache) (*InventoryWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(c.Dir()); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", c.Dir(), err)
	}
	return &InventoryWatcher{cache: c, watcher: w}, nil
}

// Run applies directory events until ctx is done, then closes the watcher.
func (iw *InventoryWatcher) Run(ctx context.Context) {
	defer iw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			iw.apply(event)
		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("cache watcher error", logger.ErrorField(err))
		}
	}
}

func (iw *InventoryWatcher) apply(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		iw.cache.Track(name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		iw.cache.Untrack(name)
	default:
		return
	}
	logger.Debug("cache inventory event", logger.String("file", name), logger.String("op", event.Op.String()))
}
