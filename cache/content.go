package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"dndj/logger"
	"dndj/model"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrMissingFile is returned when a resolved path does not exist on disk.
	ErrMissingFile = errors.New("file does not exist")
	// ErrFetchFailed wraps fetcher failures.
	ErrFetchFailed = errors.New("fetch failed")
)

// Fetcher downloads a remote asset into dir and returns the stored file name
// (base name, "<id>.<ext>").
type Fetcher interface {
	Fetch(ctx context.Context, id, ref, dir string) (string, error)
}

// InventoryListener is told about entries entering or leaving the cache.
type InventoryListener interface {
	OnAdd(id string)
	OnRemove(id string)
}

// Entry is one cached asset.
type Entry struct {
	ID   string `json:"id"`
	File string `json:"file"`
	Size int64  `json:"size"`
}

// ContentCache resolves tracks to playable local paths. Remote assets are
// fetched at most once per identifier and kept in a download directory whose
// listing is the cache index.
type ContentCache struct {
	dir     string
	fetcher Fetcher

	mu        sync.RWMutex
	entries   map[string]string // id -> file name inside dir
	fetching  map[string]bool   // ids whose fetch is writing into dir
	listeners []InventoryListener

	flight singleflight.Group
}

// Option configures a ContentCache.
type Option func(*ContentCache)

// WithListener registers an inventory listener.
func WithListener(l InventoryListener) Option {
	return func(c *ContentCache) {
		c.listeners = append(c.listeners, l)
	}
}

// NewContentCache creates the download directory if needed and builds the
// index from its current contents.
func NewContentCache(dir string, fetcher Fetcher, opts ...Option) (*ContentCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	c := &ContentCache{
		dir:     dir,
		fetcher: fetcher,
		entries:  make(map[string]string),
		fetching: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.scan(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the download directory.
func (c *ContentCache) Dir() string { return c.dir }

func (c *ContentCache) scan() error {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("list cache dir %s: %w", c.dir, err)
	}

	var total int64
	c.mu.Lock()
	for _, f := range files {
		if !f.Type().IsRegular() || isPartial(f.Name()) {
			continue
		}
		c.entries[idFromFile(f.Name())] = f.Name()
		if info, err := f.Info(); err == nil {
			total += info.Size()
		}
	}
	count := len(c.entries)
	c.mu.Unlock()

	logger.Info("cache inventory loaded",
		logger.String("dir", c.dir),
		logger.Int("files", count),
		logger.Float64("gigabytes", float64(total)/(1<<30)))
	return nil
}

// Resolve returns the local path of a track. Local tracks are looked up in
// their resolved directory; remote tracks are served from the cache and
// fetched on a miss.
func (c *ContentCache) Resolve(ctx context.Context, ref model.TrackRef) (string, error) {
	if ref.Track.Source.IsRemote() {
		return c.resolveRemote(ctx, ref.Track.Source.Ref)
	}

	dir, err := ref.Directory()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ref.Track.Source.Ref)
	if !isFile(path) {
		return "", fmt.Errorf("%w: %s", ErrMissingFile, path)
	}
	return path, nil
}

func (c *ContentCache) resolveRemote(ctx context.Context, url string) (string, error) {
	id, err := ExtractID(url)
	if err != nil {
		return "", err
	}

	if path, ok := c.cachedPath(id); ok {
		return path, nil
	}

	// Shared by every caller of the flight; no single caller may cancel it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(id, func() (interface{}, error) {
		if path, ok := c.cachedPath(id); ok {
			return filepath.Base(path), nil
		}
		c.setFetching(id, true)
		defer c.setFetching(id, false)

		logger.Info("fetching remote track", logger.String("id", id), logger.String("url", url))
		name, err := c.fetcher.Fetch(fetchCtx, id, url, c.dir)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrFetchFailed, id, err)
		}
		c.put(id, name)
		return name, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if res.Err != nil {
		return "", res.Err
	}
	if res.Shared {
		logger.Debug("joined in-flight fetch", logger.String("id", id))
	}

	path := filepath.Join(c.dir, res.Val.(string))
	if !isFile(path) {
		return "", fmt.Errorf("%w: %s", ErrMissingFile, path)
	}
	return path, nil
}

// cachedPath returns the path of id when indexed and still on disk. Entries
// whose file vanished are dropped so the next resolve fetches again.
func (c *ContentCache) cachedPath(id string) (string, bool) {
	c.mu.RLock()
	name, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	path := filepath.Join(c.dir, name)
	if isFile(path) {
		return path, true
	}
	c.forget(id)
	return "", false
}

// IsCached reports whether id is in the index.
func (c *ContentCache) IsCached(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// Entries lists the index sorted by id.
func (c *ContentCache) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for id, name := range c.entries {
		e := Entry{ID: id, File: name}
		if info, err := os.Stat(filepath.Join(c.dir, name)); err == nil {
			e.Size = info.Size()
		}
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear deletes every file of the download directory. Deletion is best
// effort: files that fail to delete are reported in the returned error and
// stay indexed, the others are gone from disk and index.
func (c *ContentCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("list cache dir %s: %w", c.dir, err)
	}

	var errs []error
	for _, f := range files {
		if !f.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, f.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		id := idFromFile(f.Name())
		if c.entries[id] == f.Name() {
			delete(c.entries, id)
			c.notifyRemove(id)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("clear cache: %w", errors.Join(errs...))
	}
	return nil
}

// Track indexes a file that appeared in the download directory. Files of an
// id still being fetched are left to the fetch, which indexes them once
// complete.
func (c *ContentCache) Track(name string) {
	if isPartial(name) || !isFile(filepath.Join(c.dir, name)) {
		return
	}
	id := idFromFile(name)
	c.mu.RLock()
	busy := c.fetching[id]
	c.mu.RUnlock()
	if busy {
		return
	}
	c.put(id, name)
}

func (c *ContentCache) setFetching(id string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.fetching[id] = true
	} else {
		delete(c.fetching, id)
	}
}

// Untrack drops the index entry backed by a file that left the directory.
func (c *ContentCache) Untrack(name string) {
	id := idFromFile(name)
	c.mu.Lock()
	if c.entries[id] != name {
		c.mu.Unlock()
		return
	}
	delete(c.entries, id)
	c.notifyRemove(id)
	c.mu.Unlock()
}

// Stats returns the number of indexed entries and their total size in bytes.
func (c *ContentCache) Stats() (count int, bytes int64) {
	for _, e := range c.Entries() {
		count++
		bytes += e.Size
	}
	return count, bytes
}

// IDs returns the identifiers currently indexed.
func (c *ContentCache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *ContentCache) put(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[id] == name {
		return
	}
	c.entries[id] = name
	for _, l := range c.listeners {
		l.OnAdd(id)
	}
}

func (c *ContentCache) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; ok {
		delete(c.entries, id)
		c.notifyRemove(id)
	}
}

// notifyRemove must be called with c.mu held.
func (c *ContentCache) notifyRemove(id string) {
	for _, l := range c.listeners {
		l.OnRemove(id)
	}
}

func idFromFile(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// isPartial matches the temporary files yt-dlp leaves while downloading.
func isPartial(name string) bool {
	switch filepath.Ext(name) {
	case ".part", ".ytdl", ".tmp", ".temp", ".minio":
		return true
	}
	// ffmpeg post-processing writes <id>.temp.<ext> before the final rename
	return strings.HasPrefix(name, ".") || strings.Contains(name, ".temp.")
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
