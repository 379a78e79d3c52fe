package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"signflow/artifact"
	"signflow/auth"
	"signflow/config"
	"signflow/contract"
	"signflow/db"
	"signflow/httpapi"
	"signflow/notify"
	"signflow/obs"
	"signflow/provider"
	"signflow/render"
	"signflow/signature"
	"signflow/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := obs.NewLogger(cfg.LogLevel)
	metrics := obs.NewMetrics()
	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("bootstrap database pool")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.WithError(err).Fatal("apply migrations")
	}

	store, err := artifact.NewStore(cfg.ArtifactRoot)
	if err != nil {
		logger.WithError(err).Fatal("open artifact store")
	}

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	contractSvc := contract.NewService(contract.NewRepository(pool))
	accessRepo := artifact.NewAccessRepository(pool)
	notifier := notify.NewLogSender(logger)
	gateway := provider.NewClient(cfg.EsignBaseURL, cfg.EsignAPIKey)

	sigRepo := signature.NewRepository(pool)
	sigSvc := signature.NewService(pool, sigRepo, render.PDFStubRenderer{}, gateway,
		notifier, store, accessRepo, logger, metrics)
	sweeper := signature.NewSweeper(pool, sigRepo, logger, metrics, cfg.SweepInterval)

	ingestor, err := webhook.NewIngestor(cfg.EsignWebhookSecret, sigSvc, logger, metrics)
	if err != nil {
		logger.WithError(err).Fatal("build webhook ingestor")
	}

	server := httpapi.NewServer(authSvc, contractSvc, sigSvc, ingestor, registry, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := sweeper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Fatal("api terminated")
	}
	logger.Info("api stopped")
}
