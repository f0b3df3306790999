package skills

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextain/naia-agent/internal/observability"
)

// Manager owns the skill set shared by all requests: the built-in skills
// plus the manifests of one directory. Reload builds a fresh registry and
// swaps it in, so requests that already attached skills are unaffected.
type Manager struct {
	dir      string
	builtins []*Skill
	logger   *observability.Logger

	mu      sync.RWMutex
	current *Registry
	skipped []Skipped

	watchMu       sync.Mutex
	watcher       *fsnotify.Watcher
	watchCancel   context.CancelFunc
	watchWg       sync.WaitGroup
	watchDebounce time.Duration
	onReload      func()
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *observability.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDebounce sets how long the watcher waits for a burst of file events
// to settle before reloading.
func WithDebounce(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.watchDebounce = d
		}
	}
}

// WithReloadHook runs fn after every watcher-triggered reload.
func WithReloadHook(fn func()) ManagerOption {
	return func(m *Manager) { m.onReload = fn }
}

// NewManager creates a manager. Call Reload to populate it.
func NewManager(dir string, builtins []*Skill, opts ...ManagerOption) *Manager {
	m := &Manager{
		dir:           dir,
		builtins:      builtins,
		logger:        observability.NopLogger(),
		current:       NewRegistry(),
		watchDebounce: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reload rebuilds the registry from the built-ins and the manifest
// directory. A built-in that fails to register is an error; manifest
// problems only skip the manifest.
func (m *Manager) Reload(ctx context.Context) error {
	reg := NewRegistry()
	for _, s := range m.builtins {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	var skipped []Skipped
	if m.dir != "" {
		skipped = RegisterDir(ctx, reg, m.dir, m.logger)
	}

	m.mu.Lock()
	m.current = reg
	m.skipped = skipped
	m.mu.Unlock()

	m.logger.Info(ctx, "skills loaded", "count", len(reg.List()), "skipped", len(skipped), "dir", m.dir)
	return nil
}

// Registry returns the current registry.
func (m *Manager) Registry() *Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Skipped returns the manifests the last reload skipped.
func (m *Manager) Skipped() []Skipped {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Skipped(nil), m.skipped...)
}

// Watch reloads whenever the manifest directory changes, until ctx ends or
// Close is called. A missing directory is created first.
func (m *Manager) Watch(ctx context.Context) error {
	if m.dir == "" {
		return errors.New("skills: no directory to watch")
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}

	m.watchMu.Lock()
	if m.watcher != nil {
		m.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.watchMu.Unlock()
		return err
	}
	m.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	m.watchCancel = cancel
	m.watchMu.Unlock()

	for _, path := range m.watchPaths() {
		if err := watcher.Add(path); err != nil {
			m.logger.Debug(ctx, "failed to watch skills path", "path", path, "error", err)
		}
	}

	m.watchWg.Add(1)
	go m.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher.
func (m *Manager) Close() error {
	m.watchMu.Lock()
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	watcher := m.watcher
	m.watcher = nil
	m.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	m.watchWg.Wait()
	return err
}

// watchPaths returns the directory and its immediate subdirectories, since
// manifests live one level down.
func (m *Manager) watchPaths() []string {
	paths := []string{filepath.Clean(m.dir)}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return paths
	}
	for _, e := range entries {
		if e.IsDir() {
			paths = append(paths, filepath.Join(m.dir, e.Name()))
		}
	}
	return paths
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer m.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(m.watchDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			if err := m.Reload(ctx); err != nil {
				m.logger.Warn(ctx, "skill reload failed", "error", err)
				return
			}
			if m.onReload != nil {
				m.onReload()
			}
		})
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
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn(ctx, "skill watch error", "error", err)
		}
	}
}
