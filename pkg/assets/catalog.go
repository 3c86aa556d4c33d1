package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/mika/atelier/pkg/session"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// Catalog indexes reference images in a directory. Each image may carry a
// sidecar description: a .txt file with the same base name. The catalog
// rescans automatically when the directory changes.
type Catalog struct {
	dir     string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	refs  []session.AssetRef
	doneC chan struct{}
}

// NewCatalog scans dir and starts watching it for changes. The directory is
// created if it does not exist.
func NewCatalog(dir string, logger zerolog.Logger) (*Catalog, error) {
	if dir == "" {
		return nil, fmt.Errorf("asset directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}

	c := &Catalog{
		dir:    dir,
		logger: logger,
		doneC:  make(chan struct{}),
	}
	if err := c.rescan(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create asset watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch asset directory: %w", err)
	}
	c.watcher = watcher

	go c.watch()
	return c, nil
}

// Assets returns a copy of the current catalog, sorted by path.
func (c *Catalog) Assets() []session.AssetRef {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]session.AssetRef, len(c.refs))
	copy(out, c.refs)
	return out
}

// Lookup returns the asset with the given path, if present.
func (c *Catalog) Lookup(path string) (session.AssetRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ref := range c.refs {
		if ref.Path == path {
			return ref, true
		}
	}
	return session.AssetRef{}, false
}

// Close stops the watcher.
func (c *Catalog) Close() error {
	close(c.doneC)
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func (c *Catalog) watch() {
	for {
		select {
		case <-c.doneC:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.rescan(); err != nil {
				c.logger.Warn().Err(err).Msg("Asset rescan failed")
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn().Err(err).Msg("Asset watcher error")
		}
	}
}

func (c *Catalog) rescan() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read asset directory: %w", err)
	}

	var refs []session.AssetRef
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !imageExtensions[ext] {
			continue
		}

		path := filepath.Join(c.dir, name)
		ref := session.AssetRef{Path: path}

		sidecar := strings.TrimSuffix(path, filepath.Ext(path)) + ".txt"
		if data, err := os.ReadFile(sidecar); err == nil {
			ref.Description = strings.TrimSpace(string(data))
		}
		refs = append(refs, ref)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })

	c.mu.Lock()
	c.refs = refs
	c.mu.Unlock()

	c.logger.Debug().Int("count", len(refs)).Msg("Asset catalog refreshed")
	return nil
}
