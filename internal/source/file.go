package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const (
	// MaxFileSize is the largest quest list file that will be read (1MB)
	MaxFileSize = 1 * 1024 * 1024

	defaultDebounce = 200 * time.Millisecond
)

// FileFeed keeps a Store in sync with a JSON quest list file that the in-host bridge rewrites
type FileFeed struct {
	path     string
	store    *Store
	logger   logrus.FieldLogger
	debounce time.Duration
}

// NewFileFeed creates a feed for path. Nothing is read until Load or Run.
func NewFileFeed(path string, store *Store, logger logrus.FieldLogger) *FileFeed {
	return &FileFeed{
		path:     filepath.Clean(path),
		store:    store,
		logger:   logger.WithField("component", "file-feed"),
		debounce: defaultDebounce,
	}
}

// Load reads the file once and replaces the store's list
func (f *FileFeed) Load() error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("failed to open quest file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat quest file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("quest file %s is a directory", f.path)
	}
	if info.Size() > MaxFileSize {
		return fmt.Errorf("quest file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}

	data, err := io.ReadAll(io.LimitReader(file, MaxFileSize))
	if err != nil {
		return fmt.Errorf("failed to read quest file: %w", err)
	}
	return f.store.UpdateJSON(data)
}

// Run reloads the file whenever it changes until ctx is done. The parent directory is watched
// so that files replaced by rename are picked up.
func (f *FileFeed) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if err := f.Load(); err != nil {
			f.logger.WithError(err).Warn("failed to reload quest file")
			return
		}
		f.logger.Debug("quest file reloaded")
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(f.debounce, reload)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}
