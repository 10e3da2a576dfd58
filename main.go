package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/handlers"
	"fundingai-pipeline/internal/pkg/logger"
	"fundingai-pipeline/internal/services"
	"fundingai-pipeline/internal/sources"
	"fundingai-pipeline/internal/store"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		FilePath:   cfg.Logger.FilePath,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
	})

	log.Info("Starting FundingAI Pipeline",
		"scheduler_enabled", cfg.Scheduler.Enabled,
		"fixtures", cfg.Collector.UseFixtures)

	db, err := store.Open(cfg.Store, log)
	if err != nil {
		log.Fatal("Failed to open store", "error", err.Error())
	}
	defer db.Close()

	// Redis carries live agent status only; the pipeline runs without it.
	var publisher services.StatusPublisher = services.NopStatusPublisher{}
	if cfg.Redis.URL != "" {
		redisService, err := services.NewRedisService(cfg.Redis, log)
		if err != nil {
			log.Warn("Redis unavailable, agent updates will not be published", "error", err.Error())
		} else {
			defer redisService.Close()
			publisher = redisService
		}
	}

	adapters := buildAdapters(cfg, log)
	collector := services.NewCollectionAgent(db, adapters, cfg.Collector, log)
	classifier := services.NewClassificationAgent(db, cfg.Classifier, log)
	ranker := services.NewRankingAgent(db, cfg.Ranking, log)

	var notifier services.Notifier
	if cfg.Notification.WebhookURL != "" {
		notifier = services.NewWebhookNotifier(cfg.Notification, log)
	} else {
		notifier = services.NewLogNotifier(log)
	}
	notification := services.NewNotificationAgent(db, notifier, cfg.Notification, log)

	orchestrator := services.NewOrchestrator(db, publisher, cfg.Scheduler, log,
		collector, classifier, ranker, notification)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go orchestrator.StartScheduler(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.NewHandler(db, orchestrator, log).RegisterRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP Server Listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", "error", err.Error())
		}
	}()

	<-ctx.Done()
	log.Info("Shutting Down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", "error", err.Error())
	}
}

func buildAdapters(cfg *config.Config, log *logger.Logger) []sources.Adapter {
	if cfg.Collector.UseFixtures {
		return []sources.Adapter{sources.NewStaticSource("fixtures", sources.FixturePostings())}
	}

	var adapters []sources.Adapter
	if cfg.Collector.APIBaseURL != "" {
		adapters = append(adapters, sources.NewAPISource("finep_api",
			cfg.Collector.APIBaseURL, cfg.Collector.RequestTimeout, cfg.Collector.RetryAttempts, log))
	}
	if cfg.Collector.PortalURL != "" {
		portal, err := sources.NewPortalSource("funding_portal",
			cfg.Collector.PortalURL, cfg.Collector.RequestTimeout, log)
		if err != nil {
			log.Fatal("Failed to build portal source", "error", err.Error())
		}
		adapters = append(adapters, portal)
	}
	if len(adapters) == 0 {
		log.Warn("No source adapters configured, falling back to fixtures")
		adapters = append(adapters, sources.NewStaticSource("fixtures", sources.FixturePostings()))
	}
	return adapters
}
