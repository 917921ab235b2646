package main

import (
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/openpubs/publications-api/internal/contentstore"
	"github.com/openpubs/publications-api/internal/repository"
	"github.com/openpubs/publications-api/internal/searchindex"
	"github.com/openpubs/publications-api/internal/service"
	"github.com/openpubs/publications-api/internal/worker"
	"github.com/openpubs/publications-api/pkg/cache"
	"github.com/openpubs/publications-api/pkg/config"
	"github.com/openpubs/publications-api/pkg/database"
	"github.com/openpubs/publications-api/pkg/logger"
	"github.com/openpubs/publications-api/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect redis", "error", err)
	}
	defer redisClient.Close()

	pubRepo := repository.NewPublicationRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	clsRepo := repository.NewClassificationRepository(db, redisClient, cfg.Transfer.ClassificationCache, logr)
	auditRepo := repository.NewAuditRepository(db)
	uow := repository.NewUnitOfWork(db, logr)

	store := contentstore.New(contentstore.Config{
		BaseURL:   cfg.ContentStore.BaseURL,
		APIKey:    cfg.ContentStore.APIKey,
		Timeout:   cfg.ContentStore.Timeout,
		ChunkSize: cfg.ContentStore.ChunkSize,
	})
	index := searchindex.New(searchindex.Config{
		BaseURL: cfg.SearchIndex.BaseURL,
		APIKey:  cfg.SearchIndex.APIKey,
		Timeout: cfg.SearchIndex.Timeout,
	}, logr)
	signer := storage.NewSignedURLSigner(cfg.Transfer.DownloadURLSecret, cfg.Transfer.DownloadURLTTL)

	documentSvc := service.NewDocumentService(docRepo, pubRepo, auditRepo, uow, index, signer, nil, nil, logr, service.DocumentServiceConfig{
		PublicBaseURL: cfg.PublicBaseURL,
	})
	transferSvc := service.NewTransferService(docRepo, pubRepo, clsRepo, auditRepo, uow, store, index, logr, service.TransferServiceConfig{
		PublicBaseURL:      cfg.PublicBaseURL,
		DefaultOwnerRSIN:   cfg.ContentStore.DefaultOwnerRSIN,
		PlaceholderTypeURL: cfg.ContentStore.PlaceholderTypeURL,
	})

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})

	processor := worker.NewProcessor(transferSvc, documentSvc, logr)
	logr.Sugar().Infow("worker starting", "concurrency", cfg.Worker.Concurrency)
	if err := server.Run(processor.Handler()); err != nil {
		logr.Sugar().Fatalw("worker failed", "error", err)
	}
}
