package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/httplog/v2"
	"github.com/tinyscale/tinylink/internal/config"
	dbpostgres "github.com/tinyscale/tinylink/internal/database/postgres"
	"github.com/tinyscale/tinylink/internal/service"
	"github.com/tinyscale/tinylink/internal/sweeper"
	"github.com/tinyscale/tinylink/internal/validation"
	"github.com/tinyscale/tinylink/pkg/postgres"
	"golang.org/x/sync/errgroup"

	api "github.com/tinyscale/tinylink/internal/api/http"
)

func Run(ctx context.Context, cfg *config.Config, logger *httplog.Logger) error {
	const op = "app.Run"

	db, err := postgres.Connect(
		ctx,
		cfg.Postgres.DSN(),
		postgres.WithConnMaxIdleTime(cfg.Postgres.ConnMaxIdleTime),
		postgres.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
		postgres.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
		postgres.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
	)
	if err != nil {
		return fmt.Errorf("%s: failed to connect to database: %w", op, err)
	}
	defer db.Close()

	if err := postgres.Migrate("file://migrations", cfg.Postgres.DSN()); err != nil {
		return fmt.Errorf("%s: failed to run migrations: %w", op, err)
	}

	shortURLRepo := dbpostgres.NewShortURLRepository(db)
	clickRepo := dbpostgres.NewClickRepository(db)

	checkClient := &http.Client{Timeout: cfg.Validation.Timeout}
	gate := validation.NewGate(
		shortURLRepo,
		validation.NewHTTPProber(checkClient),
		validation.NewSafeBrowsingChecker(
			checkClient,
			cfg.Validation.ThreatEndpoint(),
			cfg.Validation.ClientID,
			cfg.Validation.ClientVersion,
			logger.Logger,
		),
		cfg.Validation.Timeout,
		logger.Logger,
	)

	urlSvc := service.NewURLService(
		shortURLRepo,
		clickRepo,
		gate,
		service.NanoIDGenerator{},
		cfg.KeyLength,
		logger.Logger,
	)

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        api.NewRouter(logger, urlSvc, cfg.BaseURL),
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweeper.New(shortURLRepo, cfg.Sweeper.Interval, logger.Logger).Run(ctx)
	})

	g.Go(func() error {
		var err error

		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: server error occurred: %w", op, err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("%s: failed to shutdown server: %w", op, err)
		}

		return nil
	})

	return g.Wait()
}
