package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/joho/godotenv"

	"github.com/blackmichael/blogapp/internal/auth"
	"github.com/blackmichael/blogapp/internal/blob"
	"github.com/blackmichael/blogapp/internal/changefeed"
	"github.com/blackmichael/blogapp/internal/config"
	"github.com/blackmichael/blogapp/internal/httpserver"
	"github.com/blackmichael/blogapp/internal/postgres"
	"github.com/blackmichael/blogapp/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// store is what the server needs from either database backend.
type store interface {
	httpserver.PostStore
	auth.AccountStore
	blob.CoverLister
	Close() error
}

func run() error {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	hub := changefeed.NewHub(logger)
	defer hub.Close()

	var (
		repo     store
		sessions scs.Store
	)
	if cfg.UsePostgres() {
		pg, err := postgres.NewRepository(ctx, cfg.DatabaseURL, hub, logger)
		if err != nil {
			return fmt.Errorf("create repository: %w", err)
		}
		go pg.Listen(ctx)
		repo = pg
		logger.Info("connected to database", "driver", "postgres")
	} else {
		db, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}

		var opts []sqlite.Option
		if cfg.UseRedis() {
			relay, err := changefeed.NewRedisRelay(ctx, changefeed.RedisRelayOptions{
				URL:         cfg.RedisURL,
				DialTimeout: 5 * time.Second,
			}, hub, logger)
			if err != nil {
				_ = db.Close()
				return fmt.Errorf("connect redis: %w", err)
			}
			defer relay.Close()
			go func() {
				if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("change relay exited with error", "error", err)
				}
			}()
			opts = append(opts, sqlite.WithNotifier(relay))
		}

		lite := sqlite.NewRepository(db, hub, opts...)
		sessionStore := sqlite3store.NewWithCleanupInterval(db, 30*time.Minute)
		defer sessionStore.StopCleanup()
		repo, sessions = lite, sessionStore
		logger.Info("connected to database", "driver", "sqlite", "path", cfg.DatabaseURL)
	}
	defer repo.Close()

	blobs, err := blob.NewStore(cfg.UploadsDir, cfg.BaseURL(), cfg.MaxUploadBytes, logger)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}

	sweeper := blob.NewSweeper(blobs, repo, cfg.SweepGrace, logger)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		return fmt.Errorf("start blob sweeper: %w", err)
	}
	defer sweeper.Stop()

	server := httpserver.NewServer(cfg, httpserver.Deps{
		Posts:    repo,
		Accounts: repo,
		Blobs:    blobs,
		Sessions: httpserver.NewSessionManager(sessions, cfg.IsDevelopment()),
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("server started", "addr", cfg.Addr(), "public_url", cfg.BaseURL(), "env", cfg.Env)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}
	// Live feeds outlive Shutdown; stop them before the database closes.
	hub.Close()

	return nil
}
