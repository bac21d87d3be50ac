package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docuchat/internal/config"
	"docuchat/internal/model"
	pgClient "docuchat/internal/platform/postgres"
	rabbitmqClient "docuchat/internal/platform/rabbitmq"
	redisClient "docuchat/internal/platform/redis"
	"docuchat/internal/repository"
	"docuchat/internal/vectorstore"
	"docuchat/internal/vision"
	"docuchat/internal/worker"
)

type App struct {
	Config        *config.Config
	DB            *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	MessageWorker *worker.MessagePersistWorker

	// VectorIndex is nil when the secondary index is disabled or could not
	// be created; the dual store then runs on Postgres alone.
	VectorIndex *vectorstore.RedisIndex

	// Classifier is nil unless vision is enabled in config.
	Classifier *vision.Classifier

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	db, err := pgClient.New(ctx, cfg.PostgresDSN())
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		return nil, err
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	messageRepo := repository.NewMessageRepository(db)
	messageWorker := worker.NewMessagePersistWorker(mqConn, messageRepo, cfg.RabbitMQ.MessagePersistQueue)
	if err := messageWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start message worker failed: %w", err)
	}

	var vectorIndex *vectorstore.RedisIndex
	if cfg.VectorIndex.Enabled {
		vectorIndex = vectorstore.NewRedisIndex(redisCli, cfg.VectorIndex.IndexName, cfg.VectorIndex.KeyPrefix, cfg.Embedding.Dimension)
		if err := vectorIndex.EnsureIndex(ctx); err != nil {
			log.Printf("redis vector index unavailable, continuing without it: %v", err)
			vectorIndex = nil
		}
	}

	var classifier *vision.Classifier
	if cfg.Vision.Enabled {
		classifier = vision.NewClassifier(cfg.Vision.ModelPath, cfg.Vision.LabelsPath, cfg.Vision.ONNXSharedLibPath, cfg.Vision.TopK)
	}

	return &App{
		Config:        cfg,
		DB:            db,
		Redis:         redisCli,
		MQConn:        mqConn,
		MessageWorker: messageWorker,
		VectorIndex:   vectorIndex,
		Classifier:    classifier,
		StartedAt:     time.Now(),
	}, nil
}

// migrate creates the pgvector extension, the tables, and the similarity
// index. The extension must exist before AutoMigrate sees the vector column.
func migrate(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create vector extension failed: %w", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Document{}, &model.Chunk{}, &model.Message{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops)").Error; err != nil {
		return fmt.Errorf("create embedding index failed: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
