package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sigil-systems/ingestord/internal/logging"
)

// SourcesReloadCallback is called whenever the sources file changes
// and reloads successfully. An error is logged and the watcher keeps
// running with the previous valid config.
type SourcesReloadCallback func(sf *SourcesFile) error

// SourcesWatcherConfig configures a SourcesWatcher.
type SourcesWatcherConfig struct {
	FilePath string
	// DebounceMillis coalesces bursts of filesystem events (e.g. an
	// editor's write-then-rename save sequence) into one reload.
	// Default 500ms.
	DebounceMillis int
}

// SourcesWatcher watches the Configuration Store's sources file and
// triggers SourcesReloadCallback on change, debounced.
type SourcesWatcher struct {
	config   SourcesWatcherConfig
	callback SourcesReloadCallback
	logger   *logging.Logger
	cancel   context.CancelFunc
	stopped  chan struct{}

	mu            sync.Mutex
	debounceTimer *time.Timer
}

// NewSourcesWatcher builds a watcher for cfg.FilePath.
func NewSourcesWatcher(cfg SourcesWatcherConfig, callback SourcesReloadCallback) (*SourcesWatcher, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}
	if cfg.DebounceMillis == 0 {
		cfg.DebounceMillis = 500
	}

	return &SourcesWatcher{
		config:   cfg,
		callback: callback,
		logger:   logging.GetLogger("config.sources_watcher"),
		stopped:  make(chan struct{}),
	}, nil
}

// Start loads the current file, invokes callback once synchronously,
// then watches for further changes in the background. Blocks on the
// initial load/callback only.
func (w *SourcesWatcher) Start(ctx context.Context) error {
	initial, err := LoadSourcesFile(w.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to load initial sources config: %w", err)
	}
	if err := w.callback(initial); err != nil {
		return fmt.Errorf("initial callback failed: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.watchLoop(watchCtx)
	return nil
}

func (w *SourcesWatcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.ErrorWithFields("failed to create file watcher", logging.Field("error", err.Error()))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		w.logger.ErrorWithFields("failed to watch sources file",
			logging.Field("path", w.config.FilePath),
			logging.Field("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				w.handleFileChange(ctx)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.WarnWithFields("watcher error", logging.Field("error", err.Error()))
		}
	}
}

func (w *SourcesWatcher) handleFileChange(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		func() { w.reload(ctx) },
	)
}

func (w *SourcesWatcher) reload(ctx context.Context) {
	newConfig, err := LoadSourcesFile(w.config.FilePath)
	if err != nil {
		w.logger.WarnWithFields("failed to reload sources config, keeping previous",
			logging.Field("error", err.Error()))
		return
	}
	if err := w.callback(newConfig); err != nil {
		w.logger.WarnWithFields("reload callback failed, continuing to watch",
			logging.Field("error", err.Error()))
		return
	}
}

// Stop cancels the watch loop and waits up to 5s for it to exit.
func (w *SourcesWatcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.stopped:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for sources watcher to stop")
	}
}
