package config

import (
	"os"
	"strconv"
	"time"

	"github.com/DirkTheDaring/fritztv/internal/xlog"
)

// applyEnv overlays FRITZTV_* environment variables onto cfg, logging
// each override at debug level for observability, matching the
// teacher's env-source logging convention.
func applyEnv(cfg *Config) {
	if v, ok := lookup("FRITZTV_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := lookup("FRITZTV_PLAYLIST_PATH"); ok {
		cfg.PlaylistPath = v
	}
	if v, ok := lookup("FRITZTV_PLAYLIST_URL"); ok {
		cfg.PlaylistURL = v
	}
	if v, ok := lookupInt("FRITZTV_MAX_PARALLEL_STREAMS"); ok {
		cfg.MaxParallelStreams = v
	}
	if v, ok := lookup("FRITZTV_TUNING_MODE"); ok {
		cfg.TuningMode = v
	}
	if v, ok := lookup("FRITZTV_TRANSPORT"); ok {
		cfg.Transport = v
	}
	if v, ok := lookup("FRITZTV_FFMPEG_PATH"); ok {
		cfg.FFmpegPath = v
	}
	if v, ok := lookupInt("FRITZTV_THREADS"); ok {
		cfg.Threads = v
	}
	if v, ok := lookup("FRITZTV_HLS_BASE_DIR"); ok {
		cfg.HLSBaseDir = v
	}
	if v, ok := lookupInt("FRITZTV_IDLE_GRACE_SECONDS"); ok {
		cfg.IdleGraceSeconds = v
	}
	if v, ok := lookupDuration("FRITZTV_HEADER_TIMEOUT"); ok {
		cfg.HeaderTimeout = v
	}
	if v, ok := lookupInt64("FRITZTV_MAX_CONCURRENT_ADMISSIONS"); ok {
		cfg.MaxConcurrentAdmissions = v
	}
	if v, ok := lookupInt("FRITZTV_CLIENT_LOG_RPS"); ok {
		cfg.ClientLogRPS = v
	}
	if v, ok := lookup("FRITZTV_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup("FRITZTV_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := lookupBool("FRITZTV_TELEMETRY_ENABLED"); ok {
		cfg.Telemetry.Enabled = v
	}
	if v, ok := lookup("FRITZTV_TELEMETRY_EXPORTER"); ok {
		cfg.Telemetry.ExporterType = v
	}
	if v, ok := lookup("FRITZTV_TELEMETRY_ENDPOINT"); ok {
		cfg.Telemetry.Endpoint = v
	}
	if v, ok := lookupFloat("FRITZTV_TELEMETRY_SAMPLING_RATE"); ok {
		cfg.Telemetry.SamplingRate = v
	}
}

func lookupBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		xlog.Component("config").Warn().Str("key", key).Str("value", raw).Msg("ignoring unparseable boolean environment override")
		return false, false
	}
	xlog.Component("config").Debug().Str("key", key).Bool("value", b).Str("source", "environment").Msg("using environment variable")
	return b, true
}

func lookupFloat(key string) (float64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		xlog.Component("config").Warn().Str("key", key).Str("value", raw).Msg("ignoring unparseable float environment override")
		return 0, false
	}
	xlog.Component("config").Debug().Str("key", key).Float64("value", f).Str("source", "environment").Msg("using environment variable")
	return f, true
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	xlog.Component("config").Debug().Str("key", key).Str("source", "environment").Msg("using environment variable")
	return v, true
}

func lookupInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		xlog.Component("config").Warn().Str("key", key).Str("value", raw).Msg("ignoring unparseable integer environment override")
		return 0, false
	}
	xlog.Component("config").Debug().Str("key", key).Int("value", n).Str("source", "environment").Msg("using environment variable")
	return n, true
}

func lookupInt64(key string) (int64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		xlog.Component("config").Warn().Str("key", key).Str("value", raw).Msg("ignoring unparseable integer environment override")
		return 0, false
	}
	xlog.Component("config").Debug().Str("key", key).Int64("value", n).Str("source", "environment").Msg("using environment variable")
	return n, true
}

func lookupDuration(key string) (time.Duration, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		xlog.Component("config").Warn().Str("key", key).Str("value", raw).Msg("ignoring unparseable duration environment override")
		return 0, false
	}
	xlog.Component("config").Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")
	return d, true
}
