package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// =============================================================================
// 🔄 配置热重载
// =============================================================================

// HotReloadableSections may change without a restart. Every other section
// is reloaded into Current but only takes effect on the next start.
var HotReloadableSections = map[string]bool{
	"log": true,
}

// ReloadCallback observes a successful reload.
type ReloadCallback func(old, new *Config, changed []string)

// Reloader re-reads the config file whenever it changes.
type Reloader struct {
	loader  *Loader
	watcher *FileWatcher
	current atomic.Pointer[Config]
	logger  *zap.Logger

	mu        sync.Mutex
	callbacks []ReloadCallback
}

// NewReloader watches the loader's config file. initial is the config the
// process started with.
func NewReloader(loader *Loader, initial *Config, logger *zap.Logger, opts ...WatcherOption) (*Reloader, error) {
	if loader.ConfigPath() == "" {
		return nil, fmt.Errorf("reloader requires a config file path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := NewFileWatcher([]string{loader.ConfigPath()}, append([]WatcherOption{WithWatcherLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	r := &Reloader{
		loader:  loader,
		watcher: watcher,
		logger:  logger.With(zap.String("component", "config_reloader")),
	}
	r.current.Store(initial)
	watcher.OnChange(func(evt FileEvent) {
		if evt.Op == FileOpRemove {
			r.logger.Warn("config file removed, keeping current config", zap.String("path", evt.Path))
			return
		}
		if err := r.Reload(); err != nil {
			r.logger.Error("config reload failed, keeping current config", zap.Error(err))
		}
	})
	return r, nil
}

// OnReload registers a callback.
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current returns the last successfully loaded config.
func (r *Reloader) Current() *Config { return r.current.Load() }

// Start begins watching.
func (r *Reloader) Start(ctx context.Context) error { return r.watcher.Start(ctx) }

// Stop ends watching.
func (r *Reloader) Stop() error { return r.watcher.Stop() }

// Reload loads the file now. A config that fails to load or validate is
// discarded.
func (r *Reloader) Reload() error {
	next, err := r.loader.Load()
	if err != nil {
		return err
	}
	prev := r.current.Swap(next)
	changed := ChangedSections(prev, next)
	if len(changed) == 0 {
		return nil
	}
	for _, section := range changed {
		if !HotReloadableSections[section] {
			r.logger.Warn("config section changed, restart required", zap.String("section", section))
		}
	}
	r.logger.Info("config reloaded", zap.Strings("changed", changed))

	r.mu.Lock()
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()
	for _, cb := range callbacks {
		cb(prev, next, changed)
	}
	return nil
}

// ChangedSections lists the yaml names of top-level sections that differ.
func ChangedSections(old, new *Config) []string {
	if old == nil || new == nil {
		return nil
	}
	ov, nv := reflect.ValueOf(old).Elem(), reflect.ValueOf(new).Elem()
	t := ov.Type()
	var changed []string
	for i := 0; i < t.NumField(); i++ {
		if !reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			changed = append(changed, t.Field(i).Tag.Get("yaml"))
		}
	}
	return changed
}
