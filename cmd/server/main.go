package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/openpubs/publications-api/internal/contentstore"
	"github.com/openpubs/publications-api/internal/handler"
	"github.com/openpubs/publications-api/internal/middleware"
	"github.com/openpubs/publications-api/internal/queue"
	"github.com/openpubs/publications-api/internal/repository"
	"github.com/openpubs/publications-api/internal/searchindex"
	"github.com/openpubs/publications-api/internal/service"
	"github.com/openpubs/publications-api/pkg/cache"
	"github.com/openpubs/publications-api/pkg/config"
	"github.com/openpubs/publications-api/pkg/database"
	"github.com/openpubs/publications-api/pkg/logger"
	corsmiddleware "github.com/openpubs/publications-api/pkg/middleware/cors"
	reqidmiddleware "github.com/openpubs/publications-api/pkg/middleware/requestid"
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

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()
	tasks := queue.NewClient(asynqClient, cfg.Worker.MaxRetries)

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

	metricsSvc := service.NewMetricsService()
	documentSvc := service.NewDocumentService(docRepo, pubRepo, auditRepo, uow, index, signer, tasks, nil, logr, service.DocumentServiceConfig{
		PublicBaseURL: cfg.PublicBaseURL,
	})
	publicationSvc := service.NewPublicationService(pubRepo, documentSvc, clsRepo, auditRepo, uow, index, tasks, nil, logr)
	transferSvc := service.NewTransferService(docRepo, pubRepo, clsRepo, auditRepo, uow, store, index, logr, service.TransferServiceConfig{
		PublicBaseURL:      cfg.PublicBaseURL,
		DefaultOwnerRSIN:   cfg.ContentStore.DefaultOwnerRSIN,
		PlaceholderTypeURL: cfg.ContentStore.PlaceholderTypeURL,
	})

	pubHandler := handler.NewPublicationHandler(publicationSvc, metricsSvc)
	docHandler := handler.NewDocumentHandler(documentSvc, transferSvc, signer, metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/publications", pubHandler.Create)
		api.GET("/publications/:id", pubHandler.Get)
		api.PUT("/publications/:id", pubHandler.Update)
		api.POST("/publications/:id/publish", pubHandler.Publish)
		api.POST("/publications/:id/revoke", pubHandler.Revoke)
		api.GET("/publications/:id/history", pubHandler.History)
		api.POST("/publications/:id/documents", docHandler.Create)

		api.GET("/documents/:id", docHandler.Get)
		api.PUT("/documents/:id", docHandler.Update)
		api.POST("/documents/:id/publish", docHandler.Publish)
		api.POST("/documents/:id/revoke", docHandler.Revoke)
		api.PUT("/documents/:id/parts/:seq", docHandler.UploadPart)
		api.GET("/documents/:id/download", docHandler.Download)
		api.DELETE("/documents/:id", docHandler.Delete)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
