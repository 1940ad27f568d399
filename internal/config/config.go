package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config is the fully resolved test configuration. It is built once from
// the config file and command-line flags and read-only afterwards.
type Config struct {
	// Target endpoint
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"` // "ws" or "wss"
	Path     string `json:"path"`

	// Scan shape
	StartCount int `json:"start_count"`
	MaxCount   int `json:"max_count"`
	Increment  int `json:"increment"`

	BatchDuration   time.Duration `json:"batch_duration"`
	ConnectionDelay time.Duration `json:"connection_delay"`

	// Timeout bounds the dial and the probe/echo round-trip.
	Timeout time.Duration `json:"timeout"`
	// CloseGrace bounds how long the batch runner waits for a worker to
	// acknowledge a close before declaring forced_close_timeout.
	CloseGrace time.Duration `json:"close_grace"`

	StabilityThreshold float64 `json:"stability_threshold"`

	Cumulative bool `json:"cumulative"`
	// Exhaustive keeps scanning up to MaxCount even after an unstable
	// batch instead of stopping at the first breach.
	Exhaustive bool `json:"exhaustive"`

	// InsecureTLS skips certificate verification for wss targets
	// (self-signed test servers).
	InsecureTLS bool `json:"insecure_tls"`
	Verbose     bool `json:"verbose"`
}

// Default mirrors the shipped config.yaml fallback values.
func Default() *Config {
	return &Config{
		Host:               "localhost",
		Port:               7070,
		Protocol:           "ws",
		Path:               "/",
		StartCount:         1,
		MaxCount:           10,
		Increment:          1,
		BatchDuration:      5 * time.Second,
		ConnectionDelay:    0,
		Timeout:            5 * time.Second,
		CloseGrace:         5 * time.Second,
		StabilityThreshold: 90.0,
	}
}

// Validate enforces the structural invariants of the scan. A config that
// fails validation means the run cannot proceed at all.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Protocol != "ws" && c.Protocol != "wss" {
		return fmt.Errorf("protocol must be ws or wss, got %q", c.Protocol)
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("path must start with /, got %q", c.Path)
	}
	if c.StartCount < 1 {
		return fmt.Errorf("start count must be >= 1, got %d", c.StartCount)
	}
	if c.MaxCount < c.StartCount {
		return fmt.Errorf("max count %d must be >= start count %d", c.MaxCount, c.StartCount)
	}
	if c.Increment < 1 {
		return fmt.Errorf("increment must be >= 1, got %d", c.Increment)
	}
	if c.BatchDuration < 0 {
		return fmt.Errorf("batch duration must not be negative")
	}
	if c.ConnectionDelay < 0 {
		return fmt.Errorf("connection delay must not be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.StabilityThreshold < 0 || c.StabilityThreshold > 100 {
		return fmt.Errorf("stability threshold must be 0-100, got %.1f", c.StabilityThreshold)
	}
	return nil
}

// URL returns the WebSocket URI the workers dial.
func (c *Config) URL() string {
	return fmt.Sprintf("%s://%s%s", c.Protocol, c.Addr(), c.Path)
}

// Addr returns the host:port of the target.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
