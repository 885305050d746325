// Package xlog configures the process-wide structured logger.
package xlog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls global logger initialization.
type Config struct {
	Level   string // "debug", "info", "warn", "error"; default "info"
	Output  io.Writer
	Service string
	Version string
}

var (
	mu          sync.RWMutex
	base        zerolog.Logger
	initialized bool
)

// Configure initializes the global logger. Safe to call once at process
// startup; subsequent calls replace the configuration.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	w := cfg.Output
	if w == nil {
		w = os.Stdout
	}

	service := cfg.Service
	if service == "" {
		service = "fritztv"
	}

	base = zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("version", cfg.Version).
		Logger()
	initialized = true
}

func ensure() {
	mu.RLock()
	ok := initialized
	mu.RUnlock()
	if !ok {
		Configure(Config{})
	}
}

// L returns the global logger.
func L() zerolog.Logger {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return L().With().Str("component", name).Logger()
}
