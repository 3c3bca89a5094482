package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/glowlab/deskagent/internal/logger"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher monitors the config file and delivers reloaded configs through a
// callback. Editors tend to write files in bursts, so events are debounced;
// the directory is watched rather than the file because many editors replace
// the file on save.
type Watcher struct {
	path     string
	onChange func(*Config)
	debounce time.Duration
	log      *logger.Logger

	mu       sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the config file at path. onChange receives
// every successfully reloaded config; a config that fails to load or validate
// is logged and dropped.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     filepath.Clean(abs),
		onChange: onChange,
		debounce: defaultWatchDebounce,
		log:      logger.WithPrefix("config"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Call Stop to release the underlying watcher.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsWatcher
	w.mu.Unlock()

	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		_ = fsWatcher.Close()
		w.mu.Lock()
		w.watcher = nil
		w.mu.Unlock()
		return err
	}

	go w.watchLoop(fsWatcher)
	return nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) watchLoop(fsWatcher *fsnotify.Watcher) {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Clean(event.Name) != w.path {
		return
	}
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	config, err := Load(w.path)
	if err != nil {
		w.log.Warn("reload failed: %v", err)
		return
	}
	if err := config.Validate(); err != nil {
		w.log.Warn("reloaded config rejected: %v", err)
		return
	}

	w.log.Info("config reloaded from %s", w.path)
	if w.onChange != nil {
		w.onChange(config)
	}
}
