package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"schedform/internal/schedule"
	"schedform/internal/storage"
)

// Default returns the configuration used when no file is given. Files are
// decoded on top of it, so omitted keys keep these values.
func Default() *Config {
	cat := schedule.DefaultCatalog()
	return &Config{
		API: APIConfig{Timeout: "0s"},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./schedform.log"},
		},
		Notifier: NotifierConfig{
			Enabled:         true,
			Workers:         1,
			QueueSize:       64,
			RatePerSec:      5,
			RetryBase:       "500ms",
			RetryMaxDelay:   "5s",
			DedupWindow:     "0s",
			DedupMaxEntries: 500,
		},
		Storage: StorageConfig{Driver: "none", Path: "./schedform_store", BusyTimeout: "1s"},
		Catalog: CatalogConfig{
			Channels:  cat.Channels,
			Locations: cat.Locations,
		},
		Autosave: AutosaveConfig{Schedule: "5m"},
		Debug:    DebugConfig{Addr: "127.0.0.1:6060"},
	}
}

// Validate checks everything that can be checked without building
// services.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if raw := strings.TrimSpace(cfg.API.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("api.base_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("api.base_url: unsupported scheme %q", u.Scheme)
		}
	}

	durations := []struct{ path, raw string }{
		{"api.timeout", cfg.API.Timeout},
		{"notifier.retry_base", cfg.Notifier.RetryBase},
		{"notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay},
		{"notifier.dedup_window", cfg.Notifier.DedupWindow},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if cfg.Notifier.Workers < 0 || cfg.Notifier.QueueSize < 0 || cfg.Notifier.RatePerSec < 0 || cfg.Notifier.RetryMax < 0 {
		return fmt.Errorf("notifier: counts must be >= 0")
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" {
		driver = "none"
	}
	if !slices.Contains(storage.Drivers(), driver) {
		return fmt.Errorf("storage.driver: unknown driver %q (want one of %s)", cfg.Storage.Driver, strings.Join(storage.Drivers(), ", "))
	}
	if driver != "none" && strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver)
	}

	if err := cfg.Catalog.Catalog().Validate(); err != nil {
		return err
	}
	if cfg.Autosave.Enabled && strings.TrimSpace(cfg.Autosave.Schedule) == "" {
		return fmt.Errorf("autosave.schedule is required when autosave is enabled")
	}
	if cfg.Debug.Enabled {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(cfg.Debug.Addr)); err != nil {
			return fmt.Errorf("debug.addr: %w", err)
		}
	}
	return nil
}

// Catalog converts the config section into the domain type.
func (c CatalogConfig) Catalog() schedule.Catalog {
	return schedule.Catalog{
		Channels:  append([]string(nil), c.Channels...),
		Locations: append([]string(nil), c.Locations...),
	}
}
