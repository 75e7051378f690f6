package config

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadQuiet is how long the file must stay quiet after an fsnotify
// event before the manager re-reads it. Editors tend to emit bursts of
// writes for a single save.
const reloadQuiet = 500 * time.Millisecond

// Manager loads the gateway configuration and keeps it fresh. The
// active Config is held behind an atomic pointer, so Get never blocks
// and readers always see a fully validated snapshot.
type Manager struct {
	current atomic.Pointer[Config]
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu          sync.Mutex
	subscribers []func(*Config)
}

// NewManager reads and validates the file at path. A file that fails
// validation is rejected up front rather than at first use.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{path: path, logger: logger}
	m.current.Store(cfg)
	return m, nil
}

// Get returns the active configuration snapshot. Safe for concurrent
// use; callers must treat the returned Config as read-only.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// OnChange registers fn to run after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.mu.Unlock()
}

// Watch begins watching the config file and swapping in new versions
// as it changes. The watch goroutine exits when ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}
	m.watcher = watcher

	go m.run(ctx)
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer m.watcher.Close()

	quiet := time.NewTimer(reloadQuiet)
	if !quiet.Stop() {
		<-quiet.C
	}
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(reloadQuiet)

		case <-quiet.C:
			m.reload()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// reload re-reads the file and swaps the snapshot. A file that fails
// to load or validate leaves the current configuration in place.
func (m *Manager) reload() {
	cfg, err := LoadFromFile(m.path)
	if err != nil {
		m.logger.Error("config reload rejected, keeping current", "error", err)
		return
	}

	m.current.Store(cfg)
	m.logger.Info("configuration reloaded", "path", m.path)

	m.mu.Lock()
	subs := make([]func(*Config), len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}

// Close stops the file watcher, if one was started.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
