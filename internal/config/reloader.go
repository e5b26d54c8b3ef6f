package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
)

// ReloadFunc is notified with the previous and the freshly loaded config.
type ReloadFunc func(prev, next *Config)

// Reloader re-reads .env and the config file on demand and swaps the
// current config atomically. Only settings that listeners apply take effect
// live; RestartRequired reports the rest.
type Reloader struct {
	configPath string
	dotenvPath string
	opts       []LoadOption

	current   atomic.Pointer[Config]
	mu        sync.Mutex
	listeners []ReloadFunc
}

// NewReloader wraps initial, the config already in use.
func NewReloader(configPath, dotenvPath string, initial *Config, opts ...LoadOption) *Reloader {
	r := &Reloader{
		configPath: configPath,
		dotenvPath: dotenvPath,
		opts:       opts,
	}
	r.current.Store(initial)
	return r
}

// Current returns the active config.
func (r *Reloader) Current() *Config {
	return r.current.Load()
}

// OnReload registers fn for every successful reload.
func (r *Reloader) OnReload(fn ReloadFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload re-reads the files and notifies listeners. On error the current
// config is kept.
func (r *Reloader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ReloadDotenv(r.dotenvPath); err != nil {
		return fmt.Errorf("reload dotenv: %w", err)
	}
	next, err := Load(r.configPath, r.opts...)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	prev := r.current.Swap(next)
	if stale := RestartRequired(prev, next); len(stale) > 0 {
		slog.Warn("config reloaded; restart to apply", "sections", stale)
	} else {
		slog.Info("config reloaded")
	}
	for _, fn := range r.listeners {
		fn(prev, next)
	}
	return nil
}

// Watch reloads on every value received from signals until ctx is done.
// Failed reloads are logged and the previous config stays active.
func (r *Reloader) Watch(ctx context.Context, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			slog.Debug("config reload requested", "signal", sig)
			if err := r.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
			}
		}
	}
}

// RestartRequired lists the config sections that differ between prev and
// next and are only read at startup.
func RestartRequired(prev, next *Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var out []string
	check := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			out = append(out, name)
		}
	}
	check("gateway", prev.Gateway, next.Gateway)
	check("models", prev.Models, next.Models)
	check("agent", prev.Agent, next.Agent)
	check("sessions", prev.Sessions, next.Sessions)
	check("dbt", prev.Dbt, next.Dbt)
	check("search", prev.Search, next.Search)
	return out
}
