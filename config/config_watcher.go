package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var _ Watcher = (*ConfigWatcher)(nil)

// reloadDelay coalesces the burst of events a single save produces.
const reloadDelay = 100 * time.Millisecond

// ConfigWatcher reloads the configuration file when it changes and hands each valid
// version to its subscribers. An invalid file is logged and ignored; the last good
// configuration stays current.
type ConfigWatcher struct {
	current atomic.Pointer[Config]
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu          sync.Mutex
	subscribers []chan *Config
	done        chan struct{}
	stopped     chan struct{}
	closeOnce   sync.Once
}

// NewConfigWatcher loads path and starts watching it.
func NewConfigWatcher(path string, logger *zap.Logger) (*ConfigWatcher, error) {
	initial, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory: editors often replace the file instead of writing to it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	cw := &ConfigWatcher{
		path:    filepath.Clean(path),
		watcher: watcher,
		logger:  logger,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	cw.current.Store(initial)

	go cw.watch()
	return cw, nil
}

// Subscribe returns a channel that receives every reloaded configuration. A subscriber
// that has not consumed the previous value misses the update.
func (cw *ConfigWatcher) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	cw.mu.Lock()
	cw.subscribers = append(cw.subscribers, ch)
	cw.mu.Unlock()
	return ch
}

// GetCurrentConfig returns the last valid configuration.
func (cw *ConfigWatcher) GetCurrentConfig() *Config {
	return cw.current.Load()
}

func (cw *ConfigWatcher) watch() {
	defer close(cw.stopped)

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-cw.done:
			return
		case <-fire:
			fire = nil
			cw.reload()
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDelay)
			} else {
				debounce.Reset(reloadDelay)
			}
			fire = debounce.C
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadFile(cw.path)
	if err != nil {
		cw.logger.Error("config reload rejected, keeping previous configuration",
			zap.String("path", cw.path),
			zap.Error(err),
		)
		return
	}

	cw.current.Store(cfg)

	cw.mu.Lock()
	for _, sub := range cw.subscribers {
		select {
		case sub <- cfg:
		default:
		}
	}
	cw.mu.Unlock()

	cw.logger.Info("configuration reloaded", zap.String("path", cw.path))
}

// Close stops watching and closes every subscriber channel.
func (cw *ConfigWatcher) Close() error {
	var err error
	cw.closeOnce.Do(func() {
		close(cw.done)
		err = cw.watcher.Close()
		<-cw.stopped

		cw.mu.Lock()
		for _, sub := range cw.subscribers {
			close(sub)
		}
		cw.subscribers = nil
		cw.mu.Unlock()
	})
	return err
}
