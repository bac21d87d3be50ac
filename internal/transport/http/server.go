package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"docuchat/internal/ai"
	appsvc "docuchat/internal/app"
	"docuchat/internal/bootstrap"
	"docuchat/internal/cache"
	"docuchat/internal/pkg/extract"
	"docuchat/internal/platform/rabbitmq"
	"docuchat/internal/repository"
	"docuchat/internal/transport/http/handler"
	"docuchat/internal/transport/http/middleware"
	"docuchat/internal/vectorstore"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	cfg := app.Config

	userRepo := repository.NewUserRepository(app.DB)
	documentRepo := repository.NewDocumentRepository(app.DB)
	chunkRepo := repository.NewChunkRepository(app.DB)
	messageRepo := repository.NewMessageRepository(app.DB)

	aiClient := ai.NewOpenAICompatibleClient()
	embCfg := ai.EmbeddingConfig{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.Embedding.Model,
		Dimension:     cfg.Embedding.Dimension,
		MaxInputChars: cfg.Embedding.MaxInputChars,
	}
	chatCfg := ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	}

	var secondary vectorstore.Secondary
	if app.VectorIndex != nil {
		secondary = app.VectorIndex
	}
	store := vectorstore.NewDualStore(vectorstore.NewPostgresPrimary(chunkRepo), secondary, cfg.Embedding.Dimension)

	var classifier appsvc.ImageClassifier
	if app.Classifier != nil {
		classifier = app.Classifier
	}

	ingestService := appsvc.NewIngestService(
		userRepo,
		documentRepo,
		chunkRepo,
		extract.New(cfg.Ingest.MaxImageBytes),
		aiClient,
		store,
		classifier,
		embCfg,
		appsvc.IngestOptions{
			ChunkSize:      cfg.Ingest.ChunkSize,
			ChunkOverlap:   cfg.Ingest.ChunkOverlap,
			MinChunkChars:  cfg.Ingest.MinChunkChars,
			MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
		},
	)

	retrievalService := appsvc.NewRetrievalService(aiClient, store, embCfg,
		cfg.Retrieval.TopK, cfg.Retrieval.FetchK, cfg.Retrieval.QueryTemplate)

	publisher := rabbitmq.NewMessagePublisher(app.MQConn, cfg.RabbitMQ.MessagePersistQueue)
	historyCache := cache.NewHistoryCache(app.Redis,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second)

	chatService := appsvc.NewChatService(userRepo, messageRepo, retrievalService, aiClient,
		publisher, historyCache, chatCfg, cfg.LLM.VisionModel, cfg.LLM.MaxContextMessage)

	documentHandler := handler.NewDocumentHandler(ingestService)
	chatHandler := handler.NewChatHandler(chatService)
	visionHandler := handler.NewVisionHandler(app.Classifier, cfg.Ingest.MaxImageBytes)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(cfg.Auth.JWTSecret))
	v1.POST("/documents", documentHandler.Upload)
	v1.GET("/documents", documentHandler.List)
	v1.DELETE("/documents/:id", documentHandler.Delete)
	v1.POST("/chat", chatHandler.Chat)
	v1.GET("/messages", chatHandler.History)
	v1.POST("/vision/classify", visionHandler.Classify)

	return router
}
