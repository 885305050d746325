// Package config loads the server's YAML configuration file and
// overlays environment variable overrides, following the file+env
// layering convention of the teacher codebase's configuration loader,
// trimmed to this project's much smaller surface.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DirkTheDaring/fritztv/internal/transcoder"
)

// Config is the fully resolved server configuration: YAML file values
// merged with any FRITZTV_* environment overrides.
type Config struct {
	ListenAddr string `yaml:"listenAddr"`

	PlaylistPath string `yaml:"playlistPath"`
	PlaylistURL  string `yaml:"playlistURL"`

	MaxParallelStreams int    `yaml:"maxParallelStreams"`
	TuningMode         string `yaml:"tuningMode"` // "low_latency" or "smooth"
	Transport          string `yaml:"transport"`  // "udp" or "tcp"

	FFmpegPath string `yaml:"ffmpegPath"`
	Threads    int    `yaml:"threads"`

	HLSBaseDir       string        `yaml:"hlsBaseDir"`
	IdleGraceSeconds int           `yaml:"idleGraceSeconds"`
	HeaderTimeout    time.Duration `yaml:"headerTimeout"`

	MaxConcurrentAdmissions int64 `yaml:"maxConcurrentAdmissions"`
	ClientLogRPS            int   `yaml:"clientLogRPS"`

	LogLevel string `yaml:"logLevel"`

	MetricsAddr string `yaml:"metricsAddr"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// TelemetryConfig configures the OpenTelemetry tracer provider. It is
// disabled by default; enabling it requires an OTLP collector endpoint.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporterType"` // "grpc" or "http"
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the built-in configuration used when no file or
// environment override supplies a value.
func Defaults() Config {
	return Config{
		ListenAddr:              ":8080",
		PlaylistPath:            "",
		MaxParallelStreams:      4,
		TuningMode:              "low_latency",
		Transport:               "udp",
		FFmpegPath:              "ffmpeg",
		Threads:                 0,
		HLSBaseDir:              "/tmp/fritztv-hls",
		IdleGraceSeconds:        60,
		HeaderTimeout:           15 * time.Second,
		MaxConcurrentAdmissions: 8,
		ClientLogRPS:            5,
		LogLevel:                "info",
		MetricsAddr:             ":9090",
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Load reads path (if non-empty and present) over the defaults, then
// applies environment variable overrides, and returns the resolved
// configuration. A missing path is not an error: the defaults (plus any
// env overrides) are used as-is, matching the teacher's "config file is
// optional, env always wins" precedence.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the resolved configuration for values the rest of the
// system cannot safely operate on.
func (c Config) Validate() error {
	if c.MaxParallelStreams <= 0 {
		return fmt.Errorf("config: maxParallelStreams must be > 0, got %d", c.MaxParallelStreams)
	}
	if c.PlaylistPath == "" && c.PlaylistURL == "" {
		return fmt.Errorf("config: one of playlistPath or playlistURL is required")
	}
	switch c.TuningMode {
	case "low_latency", "smooth":
	default:
		return fmt.Errorf("config: tuningMode must be low_latency or smooth, got %q", c.TuningMode)
	}
	switch c.Transport {
	case "udp", "tcp":
	default:
		return fmt.Errorf("config: transport must be udp or tcp, got %q", c.Transport)
	}
	return nil
}

// Mode translates the configured tuning-mode string into the
// transcoder package's enum.
func (c Config) Mode() transcoder.TuningMode {
	if c.TuningMode == "smooth" {
		return transcoder.Smooth
	}
	return transcoder.LowLatency
}

// TransportMode translates the configured transport string into the
// transcoder package's enum.
func (c Config) TransportMode() transcoder.Transport {
	if c.Transport == "tcp" {
		return transcoder.TransportTCP
	}
	return transcoder.TransportUDP
}

// IdleGrace returns the configured idle-reaping grace window as a
// time.Duration.
func (c Config) IdleGrace() time.Duration {
	return time.Duration(c.IdleGraceSeconds) * time.Second
}
