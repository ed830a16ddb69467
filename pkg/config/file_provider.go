package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// RegistryWatcher loads a registry seed file and reloads it whenever the file
// changes on disk.
type RegistryWatcher struct {
	path        string
	logger      *slog.Logger
	debounce    time.Duration
	mu          sync.RWMutex
	seed        RegistrySeed
	subscribers []chan RegistrySeed
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
}

// NewRegistryWatcher creates a watcher for the specified file. A missing file is
// logged and watched until it appears.
func NewRegistryWatcher(path string, logger *slog.Logger) (*RegistryWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &RegistryWatcher{
		path:     absPath,
		logger:   logger,
		debounce: defaultDebounce,
		watcher:  watcher,
		cancel:   cancel,
	}

	if err := w.load(); err != nil {
		logger.Warn("initial registry load failed", "path", absPath, "error", err)
	}

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	go w.watchLoop(ctx)

	return w, nil
}

// Current returns the last successfully loaded seed.
func (w *RegistryWatcher) Current() RegistrySeed {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.seed
}

// Subscribe returns a channel that receives the current seed immediately and
// every reloaded seed afterwards. Slow consumers miss intermediate updates.
func (w *RegistryWatcher) Subscribe() <-chan RegistrySeed {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan RegistrySeed, 1)
	w.subscribers = append(w.subscribers, ch)
	ch <- w.seed
	return ch
}

// Close stops the watcher and cleans up resources.
func (w *RegistryWatcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *RegistryWatcher) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, func() {
					if err := w.load(); err != nil {
						w.logger.Error("registry reload failed", "path", w.path, "error", err)
						return
					}
					w.logger.Info("registry reloaded", "path", w.path)
				})
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("registry watcher error", "error", err)
		}
	}
}

func (w *RegistryWatcher) load() error {
	seed, err := LoadRegistrySeed(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.seed = seed
	subscribers := make([]chan RegistrySeed, len(w.subscribers))
	copy(subscribers, w.subscribers)
	w.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- seed:
		default:
			// Drop the stale value so the newest seed wins.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- seed:
			default:
			}
		}
	}

	return nil
}

// ApplyUpdates applies the current seed before returning, then applies every
// reload to the given registries in the background until ctx is done. onApply,
// when set, observes each outcome.
func (w *RegistryWatcher) ApplyUpdates(ctx context.Context, policies PolicyReplacer, trust TrustReplacer, onApply func(error)) {
	updates := w.Subscribe()
	apply := func(seed RegistrySeed) {
		err := seed.Apply(policies, trust)
		if err != nil {
			w.logger.Warn("registry seed partially applied", "path", w.path, "error", err)
		}
		if onApply != nil {
			onApply(err)
		}
	}

	apply(<-updates)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case seed := <-updates:
				apply(seed)
			}
		}
	}()
}
