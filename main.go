package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/Ananth-NQI/smsbook-backend/database"
	"github.com/Ananth-NQI/smsbook-backend/internal/config"
	"github.com/Ananth-NQI/smsbook-backend/internal/events"
	"github.com/Ananth-NQI/smsbook-backend/internal/handlers"
	"github.com/Ananth-NQI/smsbook-backend/internal/jobs"
	"github.com/Ananth-NQI/smsbook-backend/internal/logging"
	"github.com/Ananth-NQI/smsbook-backend/internal/routes"
	"github.com/Ananth-NQI/smsbook-backend/internal/services"
	"github.com/Ananth-NQI/smsbook-backend/internal/storage"
	"github.com/Ananth-NQI/smsbook-backend/internal/utils"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	log := logging.Setup(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid_config", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	var store storage.Store
	if cfg.UseMemoryStore {
		log.Warn("using_memory_store")
		store = storage.NewMemoryStore()
	} else {
		db, err := database.Connect(cfg.DSN(), log)
		if err != nil {
			logging.Fatal("database_connect_failed", "error", err)
		}
		dbStore := storage.NewDatabaseStore(db)
		if err := dbStore.Migrate(); err != nil {
			logging.Fatal("database_migrate_failed", "error", err)
		}
		log.Info("database_migrated")
		store = dbStore
	}

	// Redis backs the contact lock and inbound dedup across instances
	var locker services.ContactLocker = services.NewMemoryContactLocker()
	var dedup services.InboundDeduper = services.NewMemoryInboundDeduper()
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := database.ConnectRedis(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Warn("redis_unavailable_using_memory", "error", err)
		} else {
			redisClient = client
			locker = services.NewRedisContactLocker(client)
			dedup = services.NewRedisInboundDeduper(client)
		}
	}

	// Domain events
	publisher := events.NewFallback(log)
	if cfg.RabbitMQURL != "" {
		p, err := events.NewRabbitPublisher(ctx, events.ConnectionOptions{
			URL:           cfg.RabbitMQURL,
			Exchange:      cfg.EventsExchange,
			RetryAttempts: 5,
			Delay:         time.Second,
			Logger:        log,
		})
		if err != nil {
			log.Warn("rabbitmq_unavailable_using_fallback", "error", err)
		} else {
			publisher = p
		}
	}

	// Outbound SMS
	var provider services.SMSProvider
	twilioService, err := services.NewTwilioService(
		cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber, cfg.TwilioStatusCallbackURL, log,
	)
	if err != nil {
		log.Warn("twilio_not_configured_logging_sms", "error", err)
		provider = services.NewLogProvider(log)
	} else {
		provider = twilioService
	}
	smsService := services.NewSMSService(store, provider, cfg.TwilioMaxRetries, log)

	// Intent classification
	var classifier *services.FallbackClassifier
	if cfg.AIAPIKey != "" {
		llm := services.NewLLMClassifier(
			services.NewOpenRouterClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AITimeout),
			cfg.AIModel, cfg.BusinessName,
		)
		classifier = services.NewFallbackClassifier(llm, cfg.AITimeout, log)
	} else {
		log.Warn("ai_not_configured_using_heuristics")
		classifier = services.NewFallbackClassifier(nil, cfg.AITimeout, log)
	}

	quiet, err := utils.NewQuietHours(cfg.DefaultQuietHoursStart, cfg.DefaultQuietHoursEnd)
	if err != nil {
		logging.Fatal("invalid_quiet_hours", "error", err)
	}

	templates := services.NewTemplateService(cfg.BusinessName, cfg.SupportPhoneNumber, cfg.TwilioPhoneNumber)
	booking := services.NewBookingService(store, publisher, log)
	compliance := services.NewComplianceGate(store, smsService, templates, log)
	conversations := services.NewConversationService(services.ConversationDeps{
		Store:      store,
		Booking:    booking,
		Classifier: classifier,
		Selector:   classifier,
		Compliance: compliance,
		Outbound:   smsService,
		Locker:     locker,
		Templates:  templates,
		Logger:     log,
	})
	campaigns, err := services.NewCampaignService(
		store, smsService, templates,
		services.NewTokenBucket(1, cfg.TwilioMaxSendsPerSecond),
		cfg.DefaultQuietHoursStart, cfg.DefaultQuietHoursEnd, log,
	)
	if err != nil {
		logging.Fatal("campaign_service_failed", "error", err)
	}
	reminders := services.NewReminderService(store, smsService, templates, quiet, log)

	if cfg.SeedSlots {
		created, err := booking.SeedBusinessHours(ctx, time.Now().UTC(), 7)
		if err != nil {
			log.Error("slot_seed_failed", "error", err)
		} else {
			log.Info("slots_seeded", "created", created)
		}
	}

	scheduler := jobs.NewScheduler(conversations, smsService, reminders, campaigns, jobs.DefaultIntervals(), log)
	scheduler.Start(ctx)

	// HTTP
	app := fiber.New(fiber.Config{
		AppName: "SMS Booking Backend v" + version,
		ErrorHandler: handlers.ErrorHandler(log),
	})
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-API-Key",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	smsHandler := handlers.NewSMSHandler(conversations, smsService, dedup, log)
	routes.SetupRoutes(app,
		smsHandler,
		handlers.NewAdminHandler(booking, campaigns, log),
		handlers.NewHealthHandler(version, store),
		routes.Options{
			Version:         version,
			TwilioAuthToken: cfg.TwilioAuthToken,
			SkipWebhookAuth: cfg.DisableWebhookValidation,
			AdminAPIKey:     cfg.AdminAPIKey,
			Logger:          log,
		},
	)

	go func() {
		<-ctx.Done()
		log.Info("shutting_down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("http_shutdown_failed", "error", err)
		}
	}()

	log.Info("server_starting",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"memory_store", cfg.UseMemoryStore,
		"twilio", twilioService != nil,
	)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Error("server_stopped", "error", err)
	}

	scheduler.Stop()
	smsHandler.Drain()
	if err := publisher.Close(); err != nil {
		log.Warn("publisher_close_failed", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Info("shutdown_complete")
}
