package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-chi/httplog/v2"
	"github.com/tinyscale/tinylink/internal/app"
	"github.com/tinyscale/tinylink/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	logger := httplog.NewLogger("tinylink", httplog.Options{
		LogLevel: logLevel(cfg.Env),
		JSON:     cfg.Env == config.EnvProd,
		Concise:  cfg.Env != config.EnvProd,
	})

	if err := app.Run(ctx, cfg, logger); err != nil {
		logger.Error("application stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func logLevel(env string) slog.Level {
	if env == config.EnvDev {
		return slog.LevelDebug
	}

	return slog.LevelInfo
}
