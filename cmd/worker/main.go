package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harleven/casedocs/config"
	"github.com/harleven/casedocs/internal/embed"
	"github.com/harleven/casedocs/internal/extract"
	"github.com/harleven/casedocs/internal/service/pipeline"
	"github.com/harleven/casedocs/internal/store"
	"github.com/harleven/casedocs/pkg/logger"
	"github.com/harleven/casedocs/pkg/queue"
	"github.com/harleven/casedocs/pkg/storage"
	"github.com/harleven/casedocs/pkg/worker"
)

func main() {
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	redisCfg := config.GetRedisConfig()
	pipelineCfg := config.GetPipelineConfig()
	embeddingCfg := config.GetEmbeddingConfig()
	storageCfg := config.GetStorageConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewPostgresStore(ctx, config.GetPostgresConfig())
	if err != nil {
		log.Fatal("Failed to connect to postgres", logger.Error(err))
	}
	defer st.Close()

	blobs, err := storage.NewStorage(storage.StorageType(storageCfg.Type), log)
	if err != nil {
		log.Fatal("Failed to create blob storage", logger.Error(err))
	}

	orch, err := queue.NewOrchestrator(&queue.Config{
		RedisAddr:     redisCfg.Addr,
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
		MaxAttempts:   pipelineCfg.MaxAttempts,
	}, log)
	if err != nil {
		log.Fatal("Failed to create orchestrator", logger.Error(err))
	}
	defer orch.Close()

	enginePool := pipelineCfg.WorkerConcurrency
	if enginePool > runtime.NumCPU() {
		enginePool = runtime.NumCPU()
	}
	engine, err := extract.NewTesseractEngine(pipelineCfg.OCRLanguage, enginePool)
	if err != nil {
		log.Fatal("Failed to create OCR engine", logger.Error(err))
	}
	defer engine.Close()

	extractor := extract.New(engine, extract.NewPopplerRenderer(),
		pipelineCfg.MinTextLength, pipelineCfg.OCRDPI, log)

	// One provider per process; the pipeline service holds a reference.
	provider, err := embed.NewGeminiProvider(ctx, embeddingCfg.APIKey, embeddingCfg.Model)
	if err != nil {
		log.Fatal("Failed to create embedding provider", logger.Error(err))
	}
	defer provider.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	embedder := embed.New(provider, embed.NewRedisCache(redisClient),
		embeddingCfg.BatchSize, embeddingCfg.CacheTTL, embeddingCfg.QueryCacheTTL, log)

	runner := pipeline.NewService(st, blobs, extractor, embedder, orch.Records(),
		pipeline.Timeouts{
			Extract: pipelineCfg.ExtractTimeout,
			Embed:   pipelineCfg.EmbedTimeout,
		}, log)

	pipelineWorker, err := worker.NewPipelineWorker(&worker.Config{
		RedisAddr:     redisCfg.Addr,
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
		Concurrency:   pipelineCfg.WorkerConcurrency,
		Queues:        worker.DefaultQueues(),
	}, runner, orch.Records(), log)
	if err != nil {
		log.Fatal("Failed to create pipeline worker", logger.Error(err))
	}

	if err := pipelineWorker.Start(ctx); err != nil {
		log.Fatal("Failed to start worker", logger.Error(err))
	}

	// Purge terminal job records past the retention window.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := orch.Cleanup(ctx, pipelineCfg.JobRetention); err != nil {
					log.Warn("job cleanup failed", logger.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	pipelineWorker.Stop()
	log.Info("Worker stopped")
}
