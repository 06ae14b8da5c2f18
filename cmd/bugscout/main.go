package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bugscout/bugscout/internal/analysis"
	"github.com/bugscout/bugscout/internal/archive"
	"github.com/bugscout/bugscout/internal/config"
	"github.com/bugscout/bugscout/internal/notify"
	"github.com/bugscout/bugscout/internal/pipeline"
	"github.com/bugscout/bugscout/internal/search"
	"github.com/bugscout/bugscout/internal/server"
	"github.com/bugscout/bugscout/internal/storage"
	"github.com/bugscout/bugscout/internal/telemetry"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/bugscout.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}

	log.Info().
		Str("telemetry_base_url", cfg.Telemetry.BaseURL).
		Str("model", cfg.Analysis.Model).
		Int("batch_size", cfg.Pipeline.BatchSize).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The durable store is the one hard dependency: without it a run cannot
	// start at all.
	store, err := storage.NewPostgres(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Postgres")
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema")
	}
	log.Info().Msg("Connected to Postgres")

	fetcher := telemetry.NewClient(cfg.Telemetry.BaseURL, cfg.Telemetry.APIKey, cfg.Telemetry.PageLimit, cfg.Telemetry.TimeoutDur)
	analyzer := analysis.NewLLMAnalyzer(cfg.Analysis.BaseURL, cfg.Analysis.APIKey, cfg.Analysis.Model, cfg.Analysis.TimeoutDur)

	p := pipeline.New(fetcher, analyzer, store, cfg.Pipeline, cfg.Telemetry.LookbackDur)

	// Secondary search index (optional)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to connect to Redis, search mirroring disabled")
		} else {
			mirror := search.New(rdb)
			defer mirror.Close()
			p.WithMirror(mirror)
			log.Info().Msg("Connected to Redis")
		}
	}

	// New-issue alerts (optional)
	notifier := notify.New(cfg.Kafka)
	defer notifier.Close()
	p.WithNotifier(notifier)

	// Telemetry archive (optional)
	if cfg.ClickHouse.Addr != "" {
		ch, err := archive.New(cfg.ClickHouse)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to ClickHouse, event archiving disabled")
		} else {
			defer ch.Close()
			p.WithArchiver(ch)
			log.Info().Msg("Connected to ClickHouse")
		}
	}

	// Periodic runs (optional)
	if cfg.Pipeline.IntervalDur > 0 {
		go p.RunLoop(ctx, cfg.Pipeline.IntervalDur)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: server.New(p).Router(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()
	httpServer.Shutdown(context.Background())
	log.Info().Msg("Shutdown complete")
}
