// Package main provides the main entry point for the coldflow outreach core
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coldflowhq/coldflow/app/handlers"
	"github.com/coldflowhq/coldflow/app/middleware"
	"github.com/coldflowhq/coldflow/app/router"
	"github.com/coldflowhq/coldflow/app/scheduler"
	"github.com/coldflowhq/coldflow/app/services"
	businessflow "github.com/coldflowhq/coldflow/business_flow"
	"github.com/coldflowhq/coldflow/config"
	"github.com/coldflowhq/coldflow/models"
	"github.com/coldflowhq/coldflow/repository"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	stopFuncs []func()
}

func main() {
	log.Println("Starting coldflow...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := config.ValidateProductionConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers before closing the server
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.router.GetApp().ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.SenderReputation{},
		&models.SendJob{},
		&models.Campaign{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	// Repositories
	reputationRepo := repository.NewSenderReputationRepository(db)
	jobRepo := repository.NewSendJobRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)

	// Services
	smtpIdentities := make([]services.SMTPIdentity, 0, len(cfg.Identities))
	for _, id := range cfg.Identities {
		smtpIdentities = append(smtpIdentities, services.SMTPIdentity{
			ID:       id.ID,
			Email:    id.Email,
			FromName: id.FromName,
			Domain:   id.Domain,
			Host:     id.SMTPHost,
			Port:     id.SMTPPort,
			Username: id.SMTPUsername,
			Password: id.SMTPPassword,
		})
	}
	emailService := services.NewSMTPEmailService(smtpIdentities)

	var domainHealth services.DomainHealthService = services.NewDNSDomainHealthService(nil)
	if rc != nil {
		domainHealth = services.NewCachedDomainHealthService(domainHealth, rc, cfg.Cache.RedisPrefix, cfg.Cache.DomainHealthTTL)
	}

	tokenService, err := services.NewTokenService(cfg.JWT.TokenTTL, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	// Core components
	reputationStore := businessflow.NewReputationStore(reputationRepo, db)
	gate := businessflow.NewQualificationGate(reputationStore, domainHealth, cfg.Qualification)
	throttle := scheduler.NewThrottle(cfg.Throttle)

	sendFlow := businessflow.NewSendFlow(
		campaignRepo,
		jobRepo,
		gate,
		reputationStore,
		emailService,
		throttle,
		cfg.Identities,
		db,
	)
	reportFlow := businessflow.NewReportFlow(campaignRepo)

	// Background workers
	sendScheduler := scheduler.NewSendScheduler(jobRepo, campaignRepo, reputationStore, emailService, throttle, cfg.Scheduler, cfg.Logging)
	stopFuncs = append(stopFuncs, sendScheduler.Start(context.Background()))

	followUpWorker := scheduler.NewFollowUpWorker(campaignRepo, emailService, reputationStore, cfg.FollowUp, nil)
	stopFuncs = append(stopFuncs, followUpWorker.Start(context.Background()))

	// HTTP layer
	sendHandler := handlers.NewSendHandler(sendFlow, reportFlow)
	authMw := middleware.NewAuthMiddleware(tokenService)
	r := router.NewFiberRouter(sendHandler, authMw, cfg)

	return &Application{
		router:    r,
		config:    cfg,
		stopFuncs: stopFuncs,
	}, nil
}
