package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"LearnChat/internal/cache"
	"LearnChat/internal/config"
	"LearnChat/internal/provider"
	"LearnChat/internal/relay"
	"LearnChat/internal/store"
	"LearnChat/internal/telemetry"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	cfg := config.LoadRelay()
	var origins string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development assistant service the widget talks to",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("provider") && !cmd.Flags().Changed("api-key") {
				cfg.APIKey = os.Getenv(config.APIKeyEnv(cfg.Provider))
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, splitOrigins(origins))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flags.StringVar(&cfg.Provider, "provider", cfg.Provider, "Reply provider (echo|ollama|anthropic|grok|openai)")
	flags.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "API key of a hosted provider")
	flags.StringVar(&cfg.OllamaURL, "ollama-url", cfg.OllamaURL, "Ollama base URL")
	flags.StringVar(&cfg.OllamaModel, "ollama-model", cfg.OllamaModel, "Ollama model specification (format: model:version)")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite exchange log path")
	flags.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "How long identical questions are answered from cache, 0 disables")
	flags.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Chat requests per second per user, 0 disables")
	flags.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "Chat request burst per user")
	flags.StringVar(&origins, "allowed-origins", "*", "Comma-separated origins allowed to call the service")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flags.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log, trace and metric files")
	flags.BoolVar(&cfg.Telemetry, "telemetry", cfg.Telemetry, "Export traces and metrics to the log directory")

	return cmd
}

func runServe(ctx context.Context, cfg config.RelayConfig, origins []string) error {
	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, "relay", cfg.Debug, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	tracer, meter := telemetry.Noop()
	if cfg.Telemetry {
		t, m, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "learnchat-relay")
		if err != nil {
			logger.Warn("failed to initialize telemetry, continuing without it", "error", err)
		} else {
			defer cleanup()
			tracer, meter = t, m
		}
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()
	logger.Info("database connected", "path", cfg.DBPath)

	popts := provider.Options{
		APIKey: cfg.APIKey,
		Logger: logger,
		Tracer: tracer,
		Meter:  meter,
	}
	if cfg.Provider == config.ProviderOllama {
		popts.BaseURL = cfg.OllamaURL
		popts.Model = cfg.OllamaModel
	}
	p, err := provider.New(cfg.Provider, popts)
	if err != nil {
		return err
	}

	responses := cache.New(cfg.CacheTTL)
	server := relay.NewServer(p, relay.Options{
		Secret:         cfg.JWTSecret,
		Cache:          responses,
		DB:             db,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		AllowedOrigins: origins,
		Logger:         logger,
		Tracer:         tracer,
		Meter:          meter,
	})

	g, gctx := errgroup.WithContext(ctx)
	responses.StartEvictionLoop(gctx, time.Minute)

	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.Addr)
	})
	g.Go(func() error {
		checkCtx, cancel := context.WithTimeout(gctx, 10*time.Second)
		defer cancel()
		if err := p.Available(checkCtx); err != nil {
			logger.Warn("provider not available yet, status endpoint will report offline",
				"provider", p.Name(), "error", err)
			return nil
		}
		logger.Info("provider available", "provider", p.Name())
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("relay failed: %w", err)
	}
	logger.Info("relay stopped")
	return nil
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
