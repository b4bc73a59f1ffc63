package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/eduspace/classdrive/internal/auth"
	"github.com/eduspace/classdrive/internal/config"
	"github.com/eduspace/classdrive/internal/drive"
	httpserver "github.com/eduspace/classdrive/internal/http"
	"github.com/eduspace/classdrive/internal/store"
	"github.com/eduspace/classdrive/internal/syncer"
)

func main() {
	// Missing .env is fine in production; config comes from real env vars.
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	log.Info("starting classdrive server")
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		log.WithError(err).Fatal("failed to create db pool")
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		log.WithError(err).Fatal("failed to apply migrations")
	}

	st := store.New(pool)

	driveClient := drive.NewClient(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)

	verifier, err := auth.NewGoogleVerifier(ctx, cfg.Google.ClientID)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize google id token verifier")
	}

	sync := syncer.New(st, driveClient, syncer.Options{
		CallbackURL:            cfg.WebhookCallbackURL(),
		LeadTime:               cfg.Sync.WebhookLeadTime,
		RequestTimeout:         cfg.Sync.RequestTimeout,
		PollPageSize:           cfg.Sync.PollPageSize,
		WebhookRenewalInterval: cfg.Sync.WebhookRenewalInterval,
		FallbackInterval:       cfg.Sync.FallbackInterval,
	}, log)
	go sync.Run(ctx)

	r := httpserver.NewRouter(cfg, st, sync, driveClient, verifier, log)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
