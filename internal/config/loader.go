// Package config loads the Loadguard configuration from defaults, an optional
// YAML or JSON file and LOADGUARD_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/loadguard/internal/domain"
)

// Loader reads a config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *domain.Config
	onChange []func(*domain.Config)
}

// NewLoader creates a Loader and performs the initial load.
// An empty path means defaults plus environment only.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Load is a one-shot helper for callers that do not watch the file.
func Load(path string) (*domain.Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Config(), nil
}

// Path returns the watched file path.
func (l *Loader) Path() string {
	return l.path
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *domain.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*domain.Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file changes.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						slog.Warn("config reload failed, keeping previous config", "path", l.path, "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "path", l.path, "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*domain.Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*domain.Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	slog.Info("configuration reloaded", "path", l.path)
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if os.Getenv("LOADGUARD_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
		// JSON is valid YAML, so one decoder serves both.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", l.path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the config the process cannot run without.
func Validate(cfg *domain.Config) error {
	limits, err := cfg.Limits.ToLimits()
	if err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("repository: unsupported driver %q", cfg.Repository.Driver)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", cfg.Server.Port)
	}
	return nil
}

// applyEnv overrides file values with LOADGUARD_* environment variables.
func applyEnv(cfg *domain.Config) error {
	strs := map[string]*string{
		"LOADGUARD_HOST":              &cfg.Server.Host,
		"LOADGUARD_DB_DRIVER":         &cfg.Repository.Driver,
		"LOADGUARD_SQLITE_PATH":       &cfg.Repository.SQLitePath,
		"LOADGUARD_POSTGRES_HOST":     &cfg.Repository.PostgresHost,
		"LOADGUARD_POSTGRES_USER":     &cfg.Repository.PostgresUser,
		"LOADGUARD_POSTGRES_PASSWORD": &cfg.Repository.PostgresPassword,
		"LOADGUARD_POSTGRES_DB":       &cfg.Repository.PostgresDB,
		"LOADGUARD_CACHE_TYPE":        &cfg.Cache.Type,
		"LOADGUARD_REDIS_ADDR":        &cfg.Cache.RedisAddr,
		"LOADGUARD_REDIS_PASSWORD":    &cfg.Cache.RedisPassword,
		"LOADGUARD_BUS_TYPE":          &cfg.EventBus.Type,
		"LOADGUARD_NATS_URL":          &cfg.EventBus.NATSUrl,
		"LOADGUARD_NATS_TOKEN":        &cfg.EventBus.NATSToken,
		"LOADGUARD_LOG_LEVEL":         &cfg.Logging.Level,
		"LOADGUARD_DAILY_LIMIT":       &cfg.Limits.DailyLimit,
		"LOADGUARD_WEEKLY_LIMIT":      &cfg.Limits.WeeklyLimit,
		"LOADGUARD_PRIME_DAILY_LIMIT": &cfg.Limits.PrimeIDDailyLimit,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LOADGUARD_PORT":              &cfg.Server.Port,
		"LOADGUARD_POSTGRES_PORT":     &cfg.Repository.PostgresPort,
		"LOADGUARD_DAILY_LOAD_COUNT":  &cfg.Limits.DailyLoadCount,
		"LOADGUARD_PRIME_DAILY_COUNT": &cfg.Limits.PrimeIDDailyCount,
		"LOADGUARD_MONDAY_MULTIPLIER": &cfg.Limits.MondayMultiplier,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	if v := os.Getenv("LOADGUARD_RESTORE_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOADGUARD_RESTORE_ON_START: %w", err)
		}
		cfg.RestoreOnStart = b
	}
	return nil
}
