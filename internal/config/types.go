package config

import (
	"fmt"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	HTTP    HTTPConfig    `json:"http"`

	// Storage selects the persistence driver for jobs, webhooks and the
	// delivery history.
	//
	// Example:
	//
	//	"storage": { "driver": "bbolt", "path": "./hooksched.db" }
	Storage StorageConfig `json:"storage"`

	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the local control API.
//
// Security note: the API has no authentication, so keep it on loopback.
// Binding to a non-loopback address is refused unless allow_insecure is set.
type HTTPConfig struct {
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:8787"
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). Zero keeps the net/http defaults.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DeliveryConfig controls outbound webhook requests.
type DeliveryConfig struct {
	// Timeout is a Go duration string (e.g. "15s"). Zero means the built-in
	// default.
	Timeout string `json:"timeout,omitempty"`
}

// SchedulerConfig controls the background reconcile sweep that repairs
// drift between the persisted job table and in-memory timers.
type SchedulerConfig struct {
	// ReconcileInterval is a Go duration string (e.g. "1m"). Zero means the
	// built-in default.
	ReconcileInterval string `json:"reconcile_interval,omitempty"`
}

const DefaultHTTPAddr = "127.0.0.1:8787"

func (h HTTPConfig) EffectiveAddr() string {
	if h.Addr == "" {
		return DefaultHTTPAddr
	}
	return h.Addr
}

// Validate checks everything that can be checked without I/O. It is also
// the reload gate: a config that fails here never replaces the running one.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "", "bbolt", "bolt", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("delivery.timeout", c.Delivery.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.reconcile_interval", c.Scheduler.ReconcileInterval); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileInterval returns the parsed sweep interval, or def when unset.
func (c *Config) ReconcileInterval(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("scheduler.reconcile_interval", c.Scheduler.ReconcileInterval, def)
	if err != nil {
		return def
	}
	return d
}

// DeliveryTimeout returns the parsed request timeout, or def when unset.
func (c *Config) DeliveryTimeout(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("delivery.timeout", c.Delivery.Timeout, def)
	if err != nil {
		return def
	}
	return d
}
