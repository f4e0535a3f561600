package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"

	"github.com/clipscope/clipscope-go/internal/config"
	"github.com/clipscope/clipscope-go/internal/db"
	"github.com/clipscope/clipscope-go/internal/handler"
	"github.com/clipscope/clipscope-go/internal/metrics"
	"github.com/clipscope/clipscope-go/internal/middleware"
	"github.com/clipscope/clipscope-go/internal/pipeline"
	"github.com/clipscope/clipscope-go/internal/repository"
	"github.com/clipscope/clipscope-go/internal/router"
	"github.com/clipscope/clipscope-go/internal/scorer"
	"github.com/clipscope/clipscope-go/internal/scrape"
	"github.com/clipscope/clipscope-go/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	middleware.InitLogger(cfg.LogLevel, "clipscope-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	cache := service.NewCacheService(cfg.RedisURL)
	defer cache.Close()

	configRepo := repository.NewConfigRepo(pool)
	resultRepo := repository.NewResultRepo(pool)
	projectRepo := repository.NewProjectRepo(pool)

	gemini := scorer.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.VisionTimeout)
	scraper := scrape.NewClient(cfg.ApifyToken, cfg.ApifyActorID, cfg.ScrapeTimeout,
		scrape.WithHardCap(cfg.ScrapeHardCap))

	runner := pipeline.NewRunner(
		scraper,
		scorer.NewTextScorer(gemini, cfg.TextBatchSize),
		scorer.NewVisionScorer(gemini),
		configRepo,
		resultRepo,
		projectRepo,
		pipeline.Policy{
			ScrapeLimit:   cfg.ScrapeLimit,
			TextWeight:    cfg.TextWeight,
			VisionWeight:  cfg.VisionWeight,
			TripThreshold: cfg.ErrorTripThreshold,
			ScrapeTimeout: cfg.ScrapeTimeout,
			TextTimeout:   cfg.TextTimeout,
			VisionTimeout: cfg.VisionTimeout,
			Credits: pipeline.CreditPolicy{
				ScrapeCost:    cfg.ScrapeCreditCost,
				TextBatchCost: cfg.TextBatchCreditCost,
				TextBatchSize: cfg.TextBatchSize,
				VisionCost:    cfg.VisionCreditCost,
			},
		},
	)

	scheduler := pipeline.NewScheduler(runner, configRepo, cfg.SchedulerTick)
	go scheduler.Start(ctx)

	metrics.Register(pool)

	svc := service.NewSuperVisionService(configRepo, resultRepo, projectRepo, cache, runner)

	app := fiber.New(fiber.Config{
		AppName:      "ClipScope API",
		ServerHeader: "ClipScope",
	})

	router.Setup(app, &router.Handlers{
		SuperVision: handler.NewSuperVisionHandler(svc),
		Health:      handler.NewHealthHandler(pool, cache.Client(), scheduler),
		Proxy:       handler.NewProxyHandler(cache),
	}, cfg.CORSOrigins)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("env", cfg.Environment).Msg("clipscope backend starting")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
