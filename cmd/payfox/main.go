package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/archive"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/checkout"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/fulfillment"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/ManuelReschke/PayFox/internal/pkg/router"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load(env.Environ())
	if err != nil {
		log.Fatal(err)
	}

	app, shutdown := NewApplication(cfg)

	go func() {
		if err := app.Listen(fmt.Sprintf("%s:%s", cfg.App.Host, cfg.App.Port)); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		log.Errorf("HTTP shutdown: %v", err)
	}
	shutdown()
}

// NewApplication wires storage, the payment pipeline and the background
// workers. The returned func stops the workers and closes connections.
func NewApplication(cfg *config.Config) (*fiber.App, func()) {
	database.SetupDatabase(database.Options{
		Host:        cfg.DB.Host,
		Port:        cfg.DB.Port,
		User:        cfg.DB.User,
		Password:    cfg.DB.Password,
		Name:        cfg.DB.Name,
		AutoMigrate: cfg.IsDev(),
	})
	db := database.GetDB()
	repository.InitializeFactory(db)

	cache.SetupCache(cache.Options{
		Host:     cfg.Cache.Host,
		Port:     cfg.Cache.Port,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	recorder := counter.NewRedisRecorder(cache.GetClient())

	provider, err := payment.NewProvider(cfg.PaymentConfig())
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Payment.WebhookSecret == "" {
		log.Warn("[Security] PAYMENT_WEBHOOK_SECRET is not set, every webhook will be rejected")
	}

	publisher := notify.New(cfg.AMQP.URL, cfg.AMQP.Exchange)
	engine := fulfillment.NewEngine(db, fulfillment.Options{
		AllowNonTxFallback: cfg.Fulfillment.AllowNonTxFallback,
	})
	processor := webhook.NewProcessor(db, provider, engine, webhook.Options{
		Recorder:    recorder,
		Publisher:   publisher,
		MaxAttempts: cfg.Retry.MaxAttempts,
	})

	var archiver archive.Archiver
	if cfg.Archive.Enabled() {
		s3Archiver, err := archive.NewS3Archiver(context.Background(), archive.Config{
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Prefix:    cfg.Archive.Prefix,
		})
		if err != nil {
			log.Fatalf("[Archive] %v", err)
		}
		archiver = s3Archiver
	}

	manager := jobqueue.NewManager(db, processor, archiver, jobqueue.Options{
		RetryInterval:  cfg.Retry.Interval,
		BatchSize:      cfg.Retry.BatchSize,
		BackoffBase:    cfg.Retry.BackoffBase,
		BackoffUnit:    cfg.Retry.BackoffUnit,
		ClaimLease:     cfg.Retry.ClaimLease,
		Retention:      cfg.Retention.ProcessedEvents,
		SweepInterval:  cfg.Retention.SweepInterval,
		SweepBatchSize: cfg.Retention.BatchSize,
	})
	manager.Start()

	checkoutService := checkout.NewService(db, provider, checkout.Options{
		ProviderName: cfg.Payment.Provider,
		Recorder:     recorder,
	})

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "PayFox",
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if docs := findDocs(); docs != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: docs,
			Path:     "v1",
		}))
	} else {
		log.Warn("OpenAPI document not found, /docs/api/v1 is disabled")
	}

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Payments:         controllers.NewPaymentController(processor, checkoutService),
		Admin:            controllers.NewAdminPaymentController(repository.GetGlobalRepositories(), provider, recorder, cfg.Retry.MaxAttempts),
		AdminUser:        cfg.Admin.User,
		AdminPassword:    cfg.Admin.Password,
		WebhookRateLimit: cfg.Webhook.RateLimit,
		LimiterStorage:   limiterStorage(cfg),
	})

	shutdown := func() {
		manager.Stop()
		if err := publisher.Close(); err != nil {
			log.Warnf("[Notify] Close: %v", err)
		}
		if err := cache.Close(); err != nil {
			log.Warnf("[Cache] Close: %v", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return app, shutdown
}

// limiterStorage shares rate limit counters through Redis when it is reachable.
func limiterStorage(cfg *config.Config) fiber.Storage {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.GetClient().Ping(ctx).Err(); err != nil {
		log.Warn("[Cache] Redis unavailable, webhook rate limits are per instance")
		return nil
	}
	port, err := strconv.Atoi(cfg.Cache.Port)
	if err != nil {
		port = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.Cache.Host,
		Port:     port,
		Password: cfg.Cache.Password,
		Database: cfg.Cache.DB,
	})
}

func findDocs() string {
	// Define possible base paths
	basePaths := []string{
		"./",     // Current directory
		"../../", // From cmd/payfox to project root
	}
	for _, path := range basePaths {
		file := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(file); err == nil {
			return file
		}
	}
	return ""
}
