package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/DoyleJ11/series-draft/internal/auth"
	"github.com/DoyleJ11/series-draft/internal/config"
	"github.com/DoyleJ11/series-draft/internal/httpapi"
	"github.com/DoyleJ11/series-draft/internal/hub"
	"github.com/DoyleJ11/series-draft/internal/logging"
	"github.com/DoyleJ11/series-draft/internal/notify"
	"github.com/DoyleJ11/series-draft/internal/store"
	"github.com/DoyleJ11/series-draft/internal/store/postgres"
	"github.com/DoyleJ11/series-draft/internal/sweeper"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.DefaultLogger().Fatalf("loading config: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	ctx = logging.WithLogger(ctx, logger)

	if err := realMain(ctx, cfg); err != nil {
		logger.Fatalf("main.realMain: %v", err)
	}
}

func realMain(ctx context.Context, cfg config.Config) error {
	logger := logging.FromContext(ctx).Named("main.realMain")

	var st store.Store = store.NewMemory()
	if cfg.Store == config.StorePostgres {
		pg, err := postgres.Open(ctx, cfg.DB.URL)
		if err != nil {
			return fmt.Errorf("postgres.Open: %w", err)
		}
		defer pg.Close()
		st = pg
	}

	var notifier notify.Notifier = notify.Nop{}
	var rdb *notify.Redis
	if cfg.RedisAddr != "" {
		r, err := notify.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("notify.NewRedis: %w", err)
		}
		defer r.Close()
		notifier, rdb = r, r
	}

	h := hub.NewHub(ctx, hub.Options{Store: st, Notifier: notifier, IdleAfter: cfg.IdleAfter})
	defer h.Shutdown()

	if cfg.JWTSecret == "" {
		logger.Warnw("DRAFT_JWT_SECRET is empty, sign-in is disabled")
	}
	handler := httpapi.SetupRoutes(h, httpapi.Options{
		Auth:           auth.New(cfg.JWTSecret, 0),
		OriginPatterns: cfg.AllowedOrigins,
		Logger:         logger,
	})

	sw, err := sweeper.New(ctx, h, sweeper.Config{Interval: cfg.SweepInterval, LobbyTTL: cfg.LobbyTTL})
	if err != nil {
		return fmt.Errorf("sweeper.New: %w", err)
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infow("listening", "addr", cfg.Addr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		logger.Infow("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sw.Run(gctx)
	})
	if rdb != nil {
		g.Go(func() error {
			return rdb.Subscribe(gctx, h.Notified)
		})
	}

	return g.Wait()
}
