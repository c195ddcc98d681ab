// Command arbexecutor is the executor's entry point. It loads configuration,
// validates it, sets up signal handling and runs the engine in the
// configured mode: an HTTP server, or a single request from a file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/arbexecutor/internal/app"
	"github.com/alanyoungcy/arbexecutor/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	requestPath := flag.String("request", "", "JSON request file (execute mode)")
	flag.Parse()

	// Logs go to stderr so execute mode can print its result on stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *requestPath != "" {
		cfg.Mode = "execute"
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("arbitrage executor starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.String("engine", cfg.EngineAddress().Hex()),
	)

	application := app.New(cfg, logger).WithRequestFile(*requestPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	runErr := application.Run(ctx)
	stop()
	application.Close()

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", runErr.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", runErr)
			os.Exit(1)
		}
	}

	logger.Info("arbitrage executor stopped")
}
