package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/DirkTheDaring/fritztv/internal/config"
	"github.com/DirkTheDaring/fritztv/internal/hlssession"
	"github.com/DirkTheDaring/fritztv/internal/httpapi"
	"github.com/DirkTheDaring/fritztv/internal/m3u"
	"github.com/DirkTheDaring/fritztv/internal/streammux"
	"github.com/DirkTheDaring/fritztv/internal/telemetry"
	"github.com/DirkTheDaring/fritztv/internal/xlog"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("fritztv: %w", err)
	}

	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: "fritztv", Version: version})
	log := xlog.Component("main")

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "fritztv",
		ServiceVersion: version,
		Environment:    "production",
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("fritztv: telemetry provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetryProvider.Shutdown(shutdownCtx)
	}()

	channels, err := loadChannels(cfg)
	if err != nil {
		return fmt.Errorf("fritztv: loading channel playlist: %w", err)
	}
	log.Info().Int("channels", len(channels)).Msg("loaded channel playlist")

	hls, err := hlssession.New(cfg.HLSBaseDir)
	if err != nil {
		return fmt.Errorf("fritztv: hls session manager: %w", err)
	}
	defer hls.Close()

	registry := streammux.New(streammux.Config{
		MaxParallelStreams: cfg.MaxParallelStreams,
		Mode:               cfg.Mode(),
		Transport:          cfg.TransportMode(),
		FFmpegPath:         cfg.FFmpegPath,
		Threads:            cfg.Threads,
		IdleGrace:          cfg.IdleGrace(),
		HLS:                hls,
	})

	server := httpapi.NewServer(httpapi.Config{
		Channels:                channels,
		Registry:                registry,
		HLS:                     hls,
		MaxConcurrentAdmissions: cfg.MaxConcurrentAdmissions,
		HeaderTimeout:           cfg.HeaderTimeout,
		ClientLogRPS:            cfg.ClientLogRPS,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: server.Router()}
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("starting HTTP gateway")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics endpoint")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}

// loadChannels resolves the channel list from either a local playlist
// file or a remote playlist URL, per cfg.
func loadChannels(cfg config.Config) ([]m3u.Channel, error) {
	var content []byte
	var err error

	switch {
	case cfg.PlaylistPath != "":
		content, err = os.ReadFile(cfg.PlaylistPath)
		if err != nil {
			return nil, err
		}
	case cfg.PlaylistURL != "":
		client := &http.Client{Timeout: 15 * time.Second}
		resp, getErr := client.Get(cfg.PlaylistURL)
		if getErr != nil {
			return nil, getErr
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("playlist fetch: unexpected status %d", resp.StatusCode)
		}
		content, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("no playlist source configured")
	}

	return m3u.Parse(string(content)), nil
}
