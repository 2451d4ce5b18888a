package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reelay/internal/auth"
	"reelay/internal/config"
	"reelay/internal/db"
	httpx "reelay/internal/http"
	"reelay/internal/hub"
	"reelay/internal/process"
	"reelay/internal/retry"
	"reelay/internal/videojob"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	jwtSvc := auth.NewJWT(cfg.JWTSecret)
	notifHub := hub.New(logger)

	r, err := httpx.NewRouter(cfg, gdb, jwtSvc, notifHub, logger)
	if err != nil {
		logger.Error("router setup failed", "error", err)
		os.Exit(1)
	}

	// retry worker
	worker := &retry.Worker{
		Store: &retry.Repo{DB: gdb},
		Applier: &process.Processor{
			Store:    &videojob.Store{DB: gdb},
			Notifier: notifHub,
			Logger:   logger,
		},
		Logger:     logger,
		Interval:   cfg.RetryInterval,
		MaxRetries: cfg.RetryMaxRetries,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
