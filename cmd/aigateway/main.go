// Package main is the entry point for the LLM gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aigateway/config"
	"aigateway/internal/app"
	"aigateway/internal/logging"
	"aigateway/internal/providers"
	"aigateway/internal/providers/anthropic"
	"aigateway/internal/providers/bedrock"
	"aigateway/internal/providers/gemini"
	"aigateway/internal/providers/openai"
	"aigateway/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		// logging is not configured yet
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		slog.Error("invalid logging configuration", "error", err)
		os.Exit(1)
	}
	handler, err := logging.New(cfg.Logging.Format, level, os.Stderr)
	if err != nil {
		slog.Error("invalid logging configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting aigateway",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	factory := providers.NewProviderFactory()
	factory.Add(openai.Registration)
	factory.Add(openai.CompatibleRegistrations...)
	factory.Add(anthropic.Registration, gemini.Registration, bedrock.Registration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, app.Config{AppConfig: cfg, Factory: factory})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		done <- application.Shutdown(shutdownCtx)
	}()

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	startErr := application.Start(addr)
	if startErr != nil {
		slog.Error("server failed", "error", startErr)
		stop()
	}
	if err := <-done; err != nil {
		slog.Error("application shutdown error", "error", err)
		os.Exit(1)
	}
	if startErr != nil {
		os.Exit(1)
	}
}
