package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/langheinrich/Cherax-EE-Chat/internal/server"
)

func main() {
	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := newLogger(cfg)

	srv := server.New(*cfg, logger)

	logger.Info().
		Str("port", cfg.Port).
		Str("env", cfg.Env).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("cleanup_delay", cfg.CleanupDelay).
		Int("history_limit", cfg.HistoryLimit).
		Msg("starting chat relay")
	logger.Info().Msg("endpoints: " + strings.Join(server.Routes(), ", "))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg *server.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(cfg.Level())
}
