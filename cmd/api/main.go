package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/MediaVault/internal/admission"
	"github.com/dharsanguruparan/MediaVault/internal/api"
	"github.com/dharsanguruparan/MediaVault/internal/artifact"
	"github.com/dharsanguruparan/MediaVault/internal/config"
	"github.com/dharsanguruparan/MediaVault/internal/database"
	"github.com/dharsanguruparan/MediaVault/internal/media"
	"github.com/dharsanguruparan/MediaVault/internal/queue"
	"github.com/dharsanguruparan/MediaVault/internal/quota"
	"github.com/dharsanguruparan/MediaVault/internal/repository"
	"github.com/dharsanguruparan/MediaVault/internal/s3storage"
	"github.com/dharsanguruparan/MediaVault/internal/signing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	jobs := repository.NewJobRepository(pool)
	quotas := repository.NewQuotaRepository(pool, cfg.DefaultLimits)
	ledger := quota.NewLedger(quotas)

	store, err := s3storage.New(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		log.Fatalf("ensure buckets: %v", err)
	}
	artifacts := media.NewArtifacts(cfg.FFmpegPath, store)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer asynqClient.Close()

	srv := api.New(
		cfg,
		admission.NewGate(ledger, cfg.MaxRetries),
		jobs,
		ledger,
		queue.NewClient(asynqClient),
		artifact.NewLeaser(artifacts, cfg.SignedURLTTL),
		artifacts,
		signing.NewSigner(cfg.SigningSecret),
	)
	if err := srv.Run(ctx); err != nil {
		log.Printf("api stopped: %v", err)
		os.Exit(1)
	}
}
