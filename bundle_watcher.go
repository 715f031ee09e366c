package pdp

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oarkflow/pdp/logger"
)

// BundleWatcher watches a bundle file on disk and installs changed
// bundles into the store. A file that fails verification leaves the
// active bundle untouched.
type BundleWatcher struct {
	bundlePath   string
	store        *Store
	loader       *BundleLoader
	watcher      *fsnotify.Watcher
	logger       logger.Logger
	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	debounceTime time.Duration
}

func NewBundleWatcher(bundlePath string, store *Store, log logger.Logger) (*BundleWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Null{}
	}
	return &BundleWatcher{
		bundlePath:   bundlePath,
		store:        store,
		loader:       NewBundleLoader(),
		watcher:      watcher,
		logger:       log,
		stopCh:       make(chan struct{}),
		debounceTime: time.Second,
	}, nil
}

// Start loads the bundle once, then begins watching for changes. The
// directory is watched because editors and distributors typically write
// a temp file and rename it over the target.
func (bw *BundleWatcher) Start(ctx context.Context) error {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = true
	bw.mu.Unlock()

	if err := bw.watcher.Add(filepath.Dir(bw.bundlePath)); err != nil {
		bw.mu.Lock()
		bw.running = false
		bw.mu.Unlock()
		return err
	}

	bw.reload(ctx)
	bw.logger.Info("bundle watcher started", "path", bw.bundlePath)

	go bw.watchLoop(ctx)
	return nil
}

func (bw *BundleWatcher) Stop() error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = false
	bw.mu.Unlock()

	close(bw.stopCh)
	return bw.watcher.Close()
}

func (bw *BundleWatcher) IsRunning() bool {
	bw.mu.RLock()
	defer bw.mu.RUnlock()
	return bw.running
}

func (bw *BundleWatcher) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-bw.watcher.Events:
			if !ok {
				return
			}
			if !bw.isBundleEvent(event) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(bw.debounceTime, func() {
				bw.reload(ctx)
			})

		case err, ok := <-bw.watcher.Errors:
			if !ok {
				return
			}
			bw.logger.Error("bundle watcher error", "error", err.Error())

		case <-bw.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (bw *BundleWatcher) isBundleEvent(event fsnotify.Event) bool {
	eventPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	bundlePath, err := filepath.Abs(bw.bundlePath)
	if err != nil {
		return false
	}
	return eventPath == bundlePath
}

func (bw *BundleWatcher) reload(ctx context.Context) {
	start := time.Now()
	bundle, err := bw.loader.LoadFile(bw.bundlePath)
	if err != nil {
		bw.logger.Error("bundle load failed", "path", bw.bundlePath, "error", err.Error())
		return
	}
	if err := bw.store.Install(ctx, bundle); err != nil {
		bw.logger.Error("bundle rejected", "version", bundle.Version, "error", err.Error())
		return
	}
	bw.logger.Info("bundle installed",
		"version", bundle.Version,
		"duration", time.Since(start).String(),
	)
}
