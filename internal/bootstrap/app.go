package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"leilaochat/internal/assistant"
	"leilaochat/internal/config"
	"leilaochat/internal/model"
	mysqlClient "leilaochat/internal/platform/mysql"
	rabbitmqClient "leilaochat/internal/platform/rabbitmq"
	redisClient "leilaochat/internal/platform/redis"
	"leilaochat/internal/repository"
	"leilaochat/internal/worker"
)

type App struct {
	Config          *config.Config
	MySQL           *gorm.DB
	Redis           *redis.Client
	MQConn          *amqp.Connection
	AssistantClient *assistant.Client
	UsageWorker     *worker.UsageEventWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Message{},
		&model.UsageEvent{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	if err := seedAdminUser(mysqlDB, cfg.AdminSeed); err != nil {
		return nil, err
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	usageRepo := repository.NewUsageRepository(mysqlDB)
	usageWorker := worker.NewUsageEventWorker(mqConn, usageRepo, cfg.RabbitMQ.TurnEventQueue)
	if err := usageWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start usage worker failed: %w", err)
	}

	assistantCli := assistant.NewClient(assistant.Config{
		BaseURL: cfg.Assistant.BaseURL,
		APIKey:  cfg.Assistant.APIKey,
	})

	return &App{
		Config:          cfg,
		MySQL:           mysqlDB,
		Redis:           redisCli,
		MQConn:          mqConn,
		AssistantClient: assistantCli,
		UsageWorker:     usageWorker,
		StartedAt:       time.Now(),
	}, nil
}

// seedAdminUser guarantees one active admin account exists so a fresh
// deployment is reachable. An existing account under the seed identity
// is promoted rather than duplicated.
func seedAdminUser(db *gorm.DB, seed config.AdminSeedConfig) error {
	userRepo := repository.NewUserRepository(db)

	existing, err := userRepo.GetByUsernameOrEmail(seed.Username)
	if err != nil {
		return err
	}
	if existing == nil {
		existing, err = userRepo.GetByEmail(seed.Email)
		if err != nil {
			return err
		}
	}

	if existing != nil {
		if existing.Admin && existing.Active {
			return nil
		}
		existing.Admin = true
		existing.Active = true
		if err := userRepo.Save(existing); err != nil {
			return fmt.Errorf("promote admin user failed: %w", err)
		}
		log.Printf("admin privileges restored for %s", existing.Username)
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password failed: %w", err)
	}
	admin := &model.User{
		Username:     seed.Username,
		Email:        seed.Email,
		PasswordHash: string(hash),
		Active:       true,
		Admin:        true,
	}
	if err := userRepo.Create(admin); err != nil {
		return fmt.Errorf("seed admin user failed: %w", err)
	}
	log.Printf("admin user created: %s", admin.Username)
	return nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.UsageWorker != nil {
		a.UsageWorker.Close()
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
