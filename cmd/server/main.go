package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harleven/casedocs/api/handlers"
	"github.com/harleven/casedocs/api/middleware"
	"github.com/harleven/casedocs/api/routes"
	"github.com/harleven/casedocs/config"
	"github.com/harleven/casedocs/internal/clients"
	"github.com/harleven/casedocs/internal/embed"
	"github.com/harleven/casedocs/internal/search"
	"github.com/harleven/casedocs/internal/service/ingest"
	"github.com/harleven/casedocs/internal/store"
	"github.com/harleven/casedocs/internal/utils/validator"
	"github.com/harleven/casedocs/pkg/logger"
	"github.com/harleven/casedocs/pkg/queue"
	"github.com/harleven/casedocs/pkg/storage"

	"github.com/redis/go-redis/v9"
)

func main() {
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/server.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	serverCfg := config.GetServerConfig()
	redisCfg := config.GetRedisConfig()
	pipelineCfg := config.GetPipelineConfig()
	embeddingCfg := config.GetEmbeddingConfig()
	storageCfg := config.GetStorageConfig()
	clientsCfg := config.GetClientsConfig()

	ctx := context.Background()

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

	caseDirectory := clients.NewHTTPCaseDirectory(clientsCfg.CaseDirectoryURL, clientsCfg.RequestTimeout)
	docValidator := validator.NewDocumentValidator(validator.DefaultConfig(serverCfg.MaxUploadSize))

	gateway, err := ingest.NewGateway(st, blobs, orch, docValidator, caseDirectory,
		filepath.Join(os.TempDir(), "casedocs-uploads"), log)
	if err != nil {
		log.Fatal("Failed to create ingestion gateway", logger.Error(err))
	}

	searchService := search.NewService(st, embedder, log)

	var authMW gin.HandlerFunc
	if clientsCfg.AuthEnabled {
		identity := clients.NewHTTPIdentity(clientsCfg.IdentityURL, clientsCfg.RequestTimeout)
		authMW = middleware.Auth(identity, log)
	}

	gin.SetMode(serverCfg.GinMode)
	h := handlers.NewHandlers(gateway, orch, searchService, log)
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = serverCfg.MaxUploadSize
	routes.SetupRoutes(r, h, serverCfg.AllowedOrigins, authMW)

	srv := &http.Server{
		Addr:    ":" + serverCfg.Port,
		Handler: r,
	}

	go func() {
		log.Info("Server starting", logger.String("port", serverCfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
