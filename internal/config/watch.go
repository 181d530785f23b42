package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const reloadDebounce = 200 * time.Millisecond

// Reload loads path, swaps it in as the current config and runs the
// RegisterOnReload callbacks. A file that fails to load or validate leaves
// the current config untouched.
func Reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	Set(cfg)
	notifyReload(cfg)
	return nil
}

// Watch watches the config file with Viper (WatchConfig + OnConfigChange) and hot-reloads.
// Run in a goroutine; it returns when ctx is done.
func Watch(ctx context.Context) {
	path := Path()
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("config watch initial read failed", "path", path, "error", err)
		return
	}

	reload := func() {
		if err := Reload(path); err != nil {
			slog.Warn("config hot-reload failed", "path", path, "error", err)
			return
		}
		slog.Info("config hot-reloaded", "path", path)
	}

	var (
		mu       sync.Mutex
		debounce *time.Timer
	)
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if filepath.Clean(e.Name) != filepath.Clean(path) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(reloadDebounce, reload)
	})

	<-ctx.Done()
	mu.Lock()
	if debounce != nil {
		debounce.Stop()
	}
	mu.Unlock()
}
