// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder serves the current configuration and reloads it from disk. Only
// the captions section takes effect without a restart; listeners receive
// every successfully reloaded configuration.
type Holder struct {
	mu      sync.RWMutex
	current Config
	path    string
	logger  zerolog.Logger

	debounce time.Duration
	watcher  *fsnotify.Watcher
	done     chan struct{}

	listenersMu sync.RWMutex
	listeners   []chan<- Config
}

func NewHolder(initial Config, path string) *Holder {
	return &Holder{
		current:  initial,
		path:     path,
		logger:   xglog.WithComponent("config"),
		debounce: 500 * time.Millisecond,
	}
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload loads and validates the file again. On failure the current
// configuration stays in place.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str(xglog.FieldEvent, "config.reload_start").Msg("reloading configuration")
	next, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str(xglog.FieldEvent, "config.reload_failed").Msg("configuration not reloaded")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	old := h.current
	h.current = next
	h.mu.Unlock()

	h.logChanges(old, next)
	h.notify(next)
	h.logger.Info().Str(xglog.FieldEvent, "config.reload_success").Msg("configuration reloaded")
	return nil
}

// StartWatcher reloads when the file changes until ctx is done or Stop is
// called. The directory is watched so atomic replacements are seen too.
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.path == "" {
		h.logger.Info().Str(xglog.FieldEvent, "config.watcher_disabled").Msg("no config file, watcher disabled")
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.watcher = w
	h.done = make(chan struct{})
	h.logger.Info().Str(xglog.FieldEvent, "config.watcher_started").Str(xglog.FieldPath, h.path).Msg("watching config file for changes")
	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	defer close(h.done)
	target := filepath.Clean(h.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = h.watcher.Close()
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			h.logger.Debug().Str(xglog.FieldEvent, "config.file_changed").Str("op", ev.Op.String()).Msg("config file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(h.debounce, func() { _ = h.Reload(ctx) })
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str(xglog.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}

// Stop ends the watcher and waits for it.
func (h *Holder) Stop() {
	if h.watcher == nil {
		return
	}
	_ = h.watcher.Close()
	<-h.done
}

// RegisterListener adds ch to the reload notifications. Sends never block;
// a full channel misses the update.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(cfg Config) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str(xglog.FieldEvent, "config.listener_skip").Msg("skipped notifying listener (channel full)")
		}
	}
}

func (h *Holder) logChanges(old, next Config) {
	if old.Captions != next.Captions {
		h.logger.Info().
			Bool("auto_load", next.Captions.AutoLoad).
			Str(xglog.FieldLanguage, next.Captions.Language).
			Stringer("auto_load_delay", next.Captions.AutoLoadDelay).
			Stringer("popout_close_delay", next.Captions.PopoutCloseDelay).
			Msg("config changed: captions")
	}
	if old.Listen != next.Listen || old.DataDir != next.DataDir || old.Cache != next.Cache ||
		old.Resume != next.Resume || old.API != next.API || old.Telemetry != next.Telemetry || old.Catalog != next.Catalog {
		h.logger.Warn().
			Str(xglog.FieldEvent, "config.restart_required").
			Msg("config changed outside captions; restart to apply")
	}
}
