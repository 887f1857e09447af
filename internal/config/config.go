// Package config is the engine's immutable configuration (§6.4, §9's note
// that reconnect/pause/history-window values should be "configuration
// rather than guessing intent"). Values are gathered once at startup into a
// single struct and threaded explicitly through constructors, never read
// back out of package-level globals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/runix/runixd/internal/driverclient"
)

// Config is the fully resolved engine configuration.
type Config struct {
	// DriverDirs are directories scanned one level deep for manifest.json
	// (§6.4 RUNIX_DRIVER_DIR, plus any CLI-supplied paths).
	DriverDirs []string

	// DriverLogLevel is passed to every spawned driver via
	// RUNIX_DRIVER_LOG_LEVEL (§6.4).
	DriverLogLevel string

	// OutputRoot is the Artifact Store's <outputRoot> (§6.5).
	OutputRoot string

	StartupTimeout  time.Duration
	CallTimeout     time.Duration
	HealthInterval  time.Duration
	ReconnectPolicy driverclient.ReconnectPolicy

	// LogLevel, LogFile, LogConsole configure the engine's own logger
	// (§6.4).
	LogLevel   string
	LogFile    string
	LogConsole bool
}

// Default returns baseline values for every field not set by environment
// or flags.
func Default() Config {
	return Config{
		DriverLogLevel:  "info",
		OutputRoot:      "./runix-output",
		StartupTimeout:  10 * time.Second,
		CallTimeout:     30 * time.Second,
		HealthInterval:  10 * time.Second,
		ReconnectPolicy: driverclient.DefaultReconnectPolicy(),
		LogLevel:        "info",
		LogConsole:      true,
	}
}

// FromEnv overlays the §6.4 environment variables onto a base config.
func FromEnv(base Config) Config {
	c := base

	if v := os.Getenv("RUNIX_DRIVER_DIR"); v != "" {
		c.DriverDirs = append(c.DriverDirs, strings.Split(v, string(os.PathListSeparator))...)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("LOG_CONSOLE"); v != "" {
		c.LogConsole = v != "0" && strings.ToLower(v) != "false"
	}

	return c
}

// Validate checks invariants that cannot be expressed in the type system
// alone. RUNIX_DRIVER_PORT is not part of this config: it is the child's
// env var, and internal/supervisor passes the OS-assigned port to the child
// without a range check (ParsePort below checks a string against it).
func (c Config) Validate() error {
	if len(c.DriverDirs) == 0 {
		return fmt.Errorf("config: at least one driver search directory is required")
	}
	if c.OutputRoot == "" {
		return fmt.Errorf("config: outputRoot must not be empty")
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("config: invalid log level %q", c.LogLevel)
	}
	return nil
}

// ParsePort validates a RUNIX_DRIVER_PORT-shaped string against the §6.4
// range (1024-65535).
func ParsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid port %q: %w", s, err)
	}
	if n < 1024 || n > 65535 {
		return 0, fmt.Errorf("config: port %d out of range 1024-65535", n)
	}
	return n, nil
}
