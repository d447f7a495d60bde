package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/encodis/encodis/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const reloadDebounce = 500 * time.Millisecond

// Holder provides atomic, hot-reloadable access to a Config. A watcher on
// the backing YAML file (if any) triggers automatic reloads on write.
type Holder struct {
	loader     *Loader
	cfg        atomic.Pointer[Config]
	watcher    *fsnotify.Watcher
	configDir  string
	configFile string
	logger     zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []chan<- Config
}

// NewHolder wraps initial under a Holder that reloads from loader.Path on
// file change.
func NewHolder(initial Config, loader *Loader) *Holder {
	h := &Holder{loader: loader, logger: log.WithComponent("config")}
	h.cfg.Store(&initial)
	return h
}

// Current returns the active Config (thread-safe, lock-free read).
func (h *Holder) Current() Config {
	if c := h.cfg.Load(); c != nil {
		return *c
	}
	return Defaults()
}

// RegisterListener registers ch to receive the new Config on every
// successful reload. The caller owns the channel's lifetime.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload re-resolves configuration from the backing file and environment,
// validates it, and swaps it in only if valid — the prior Config is kept on
// failure.
func (h *Holder) Reload(_ context.Context) error {
	next, err := h.loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := Validate(next); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	h.cfg.Store(&next)
	h.logger.Info().Msg("configuration reloaded")
	h.notify(next)
	return nil
}

func (h *Holder) notify(cfg Config) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Msg("config reload listener channel full, skipping")
		}
	}
}

// StartWatcher watches the loader's backing file for changes and triggers
// Reload on write/create/rename, debounced to absorb editors that do a
// temp-write-then-rename. No-op if the loader has no file path.
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.loader.Path == "" {
		h.logger.Info().Msg("config file watcher disabled, using environment-only configuration")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher
	h.configDir = filepath.Dir(h.loader.Path)
	h.configFile = filepath.Base(h.loader.Path)

	if err := watcher.Add(h.configDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	h.logger.Info().Str("path", h.loader.Path).Msg("watching config file for changes")
	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			_ = h.watcher.Close()
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != h.configFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().Err(err).Msg("automatic config reload failed")
				}
			})
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

// SaveYAML atomically writes cfg to path using fsync-then-rename so a crash
// mid-write never leaves a truncated config file behind.
func SaveYAML(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending config file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write config data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace config file: %w", err)
	}
	return nil
}
