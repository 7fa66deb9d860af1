package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"kevin-chat/internal/agent"
	"kevin-chat/internal/app"
	"kevin-chat/internal/cache"
	"kevin-chat/internal/config"
	"kevin-chat/internal/model"
	mysqlClient "kevin-chat/internal/platform/mysql"
	rabbitmqClient "kevin-chat/internal/platform/rabbitmq"
	redisClient "kevin-chat/internal/platform/redis"
	"kevin-chat/internal/repository"
	"kevin-chat/internal/worker"
)

// App owns the whole object graph: platform connections, services, and the
// background save worker. Everything downstream receives its dependencies
// from here; no package-level singletons.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	ChatService      *app.ChatService
	AuthService      *app.AuthService
	AgentClient      *agent.Client
	SessionPublisher *rabbitmqClient.SessionPublisher
	SessionWorker    *worker.SessionPersistWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("app", cfg.App.Name)

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.User{}, &model.ChatSession{}, &model.Message{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	sessionRepo := repository.NewChatSessionRepository(mysqlDB)
	transcriptCache := cache.NewTranscriptCache(
		redisCli,
		time.Duration(cfg.Redis.TranscriptTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.TranscriptDirtyTTLSeconds)*time.Second,
	)
	chatService := app.NewChatService(sessionRepo, transcriptCache, logger)

	agentClient := agent.NewClient(agent.Config{
		BaseURL:      cfg.Agent.BaseURL,
		QueryTimeout: time.Duration(cfg.Agent.QueryTimeoutSeconds) * time.Second,
		UseWebSearch: cfg.Agent.UseWebSearch,
		DebugMode:    cfg.Agent.DebugMode,
	}, logger)

	publisher := rabbitmqClient.NewSessionPublisher(mqConn, cfg.RabbitMQ.SessionPersistQueue)
	sessionWorker := worker.NewSessionPersistWorker(mqConn, chatService, cfg.RabbitMQ.SessionPersistQueue, logger)
	if err := sessionWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start session worker failed: %w", err)
	}

	userRepo := repository.NewUserRepository(mysqlDB)
	authService := app.NewAuthService(
		userRepo,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
		logger,
	)

	return &App{
		Config:           cfg,
		Logger:           logger,
		MySQL:            mysqlDB,
		Redis:            redisCli,
		MQConn:           mqConn,
		ChatService:      chatService,
		AuthService:      authService,
		AgentClient:      agentClient,
		SessionPublisher: publisher,
		SessionWorker:    sessionWorker,
		StartedAt:        time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.SessionWorker != nil {
		a.SessionWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
