package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"LearnChat/internal/availability"
	"LearnChat/internal/backend"
	"LearnChat/internal/chatbot"
	"LearnChat/internal/config"
	"LearnChat/internal/credentials"
	"LearnChat/internal/telemetry"
	"LearnChat/internal/ui"

	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the chat widget in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Base URL of the assistant service")
	flags.StringVar(&cfg.TokenEnv, "token-env", cfg.TokenEnv, "Environment variable holding the bearer token")
	flags.StringVar(&cfg.TokenFile, "token-file", cfg.TokenFile, "File holding the bearer token, re-read on every request")
	flags.DurationVar(&cfg.MinRequestInterval, "min-interval", cfg.MinRequestInterval, "Minimum time between the start of two chat requests")
	flags.DurationVar(&cfg.StatusPollInterval, "status-interval", cfg.StatusPollInterval, "How often to check assistant availability")
	flags.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Chat request timeout, 0 to wait indefinitely")
	flags.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "Status probe timeout")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flags.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log, trace and metric files")
	flags.BoolVar(&cfg.Telemetry, "telemetry", cfg.Telemetry, "Export traces and metrics to the log directory")

	return cmd
}

func runChat(ctx context.Context, cfg config.Config) error {
	// Log only to file, the terminal belongs to the conversation
	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, "learnchat", cfg.Debug, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	tracer, meter := telemetry.Noop()
	if cfg.Telemetry {
		t, m, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "learnchat")
		if err != nil {
			logger.Warn("failed to initialize telemetry, continuing without it", "error", err)
		} else {
			defer cleanup()
			tracer, meter = t, m
		}
	}

	tokens := tokenSource(cfg)
	warnIfExpiring(ctx, tokens, logger)

	client := backend.NewClient(cfg.BaseURL, tokens,
		backend.WithLogger(logger),
		backend.WithTelemetry(tracer, meter),
	)
	monitor := availability.NewMonitor(client, cfg.StatusPollInterval, cfg.ProbeTimeout, logger)

	opts := chatbot.DefaultOptions()
	opts.MinRequestInterval = cfg.MinRequestInterval
	opts.RequestTimeout = cfg.RequestTimeout
	opts.Logger = logger
	opts.Tracer = tracer
	opts.Meter = meter
	widget := chatbot.New(client, monitor, opts)

	logger.Info("chat widget mounted",
		"session_id", widget.Store().ID(),
		"base_url", cfg.BaseURL,
		"min_interval", cfg.MinRequestInterval,
	)

	return ui.NewTerminal(widget, os.Stdin, os.Stdout, logger).Run(ctx)
}

// tokenSource prefers the token file so a rotated token is picked up
func tokenSource(cfg config.Config) credentials.Source {
	var sources []credentials.Source
	if cfg.TokenFile != "" {
		sources = append(sources, credentials.File(cfg.TokenFile))
	}
	if cfg.TokenEnv != "" {
		sources = append(sources, credentials.Env(cfg.TokenEnv))
	}
	return credentials.FirstOf(sources...)
}

func warnIfExpiring(ctx context.Context, tokens credentials.Source, logger *slog.Logger) {
	token, err := tokens.Token(ctx)
	if err != nil {
		logger.Warn("no bearer token available yet", "error", err)
		return
	}
	expiry, err := credentials.Expiry(token)
	if err != nil || expiry.IsZero() {
		return
	}
	if remaining := time.Until(expiry); remaining < 10*time.Minute {
		logger.Warn("bearer token expires soon", "expires_at", expiry, "remaining", remaining)
	}
}
