package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/MediaVault/internal/config"
	"github.com/dharsanguruparan/MediaVault/internal/database"
	"github.com/dharsanguruparan/MediaVault/internal/media"
	"github.com/dharsanguruparan/MediaVault/internal/orchestrator"
	"github.com/dharsanguruparan/MediaVault/internal/queue"
	"github.com/dharsanguruparan/MediaVault/internal/quota"
	"github.com/dharsanguruparan/MediaVault/internal/repository"
	"github.com/dharsanguruparan/MediaVault/internal/s3storage"
	"github.com/dharsanguruparan/MediaVault/internal/transcription"
	"github.com/dharsanguruparan/MediaVault/internal/worker"
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
	index := repository.NewIndexRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		log.Fatalf("ensure buckets: %v", err)
	}
	artifacts := media.NewArtifacts(cfg.FFmpegPath, store)
	resolver := media.NewFFprobeResolver(cfg.FFprobePath)

	transcriber, err := transcription.NewWhisper(cfg.OpenAIKey, store, cfg.WhisperWait)
	if err != nil {
		log.Fatalf("init transcriber: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	orch := orchestrator.New(orchestrator.Config{
		RetryBackoff: cfg.RetryBackoff,
		RunTimeout:   cfg.RunTimeout,
		SignedURLTTL: cfg.SignedURLTTL,
	}, jobs, ledger, resolver, artifacts, transcriber, index, queue.NewClient(asynqClient))

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	processor := worker.NewProcessor(orch, ledger, quotas)
	mux := processor.Handler()

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	registerResets(scheduler)
	go func() {
		if err := scheduler.Run(); err != nil {
			log.Printf("scheduler stopped: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		scheduler.Shutdown()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}

// registerResets schedules the daily and monthly quota sweeps at period
// boundaries (UTC).
func registerResets(scheduler *asynq.Scheduler) {
	daily, err := queue.NewQuotaResetTask(queue.ScopeDaily)
	if err != nil {
		log.Fatalf("build daily reset task: %v", err)
	}
	if _, err := scheduler.Register("0 0 * * *", daily); err != nil {
		log.Fatalf("register daily reset: %v", err)
	}
	monthly, err := queue.NewQuotaResetTask(queue.ScopeMonthly)
	if err != nil {
		log.Fatalf("build monthly reset task: %v", err)
	}
	if _, err := scheduler.Register("0 0 1 * *", monthly); err != nil {
		log.Fatalf("register monthly reset: %v", err)
	}
}
