package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/domain"
	"server/internal/engine"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/ledger"
	"server/internal/middleware"
	"server/internal/providers/image"
	"server/internal/providers/plan"
	"server/internal/providers/speech"
	"server/internal/providers/video"
	"server/internal/storage"
	"server/internal/store"
	"server/internal/stream"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "engine-api")
	ctx := context.Background()

	shutdownTracing, err := infra.InitTelemetry(ctx, "engine-api", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	caps := buildCapabilities(cfg, logger)

	lg := ledger.New(cfg.StartingCredits)
	events := engine.NewBroadcaster()
	defer events.Close()

	exec := engine.NewExecutor(caps, engine.ExecutorConfig{
		PollInterval:    cfg.VideoPollInterval,
		PollMaxAttempts: cfg.VideoPollMaxPolls,
	}, logger)

	policies := domain.PolicyTable{
		domain.JobPlan:   {Cost: cfg.PlanCost},
		domain.JobSpeech: {Cost: cfg.SpeechCost},
		domain.JobImage:  {Cost: cfg.ImageCost},
		domain.JobVideo:  {Cost: cfg.VideoCost, RefundOnFailure: true},
	}

	coord := engine.NewCoordinator(exec, lg, policies, engine.CoordinatorConfig{
		Concurrency:         cfg.BatchConcurrency,
		MinSceneSeconds:     cfg.MinSceneSeconds,
		DefaultSceneSeconds: cfg.DefaultSceneSeconds,
		DefaultSceneCount:   cfg.DefaultSceneCount,
		CompositeCost:       cfg.CompositeCost,
	}, events, logger)

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("init storage")
	}
	exporter := storage.NewExporter(fileStore, nil, cfg.ExportStagger, logger)

	loop := engine.NewAutoLoop(coord, lg, events, exporter, cfg.InterCycleDelay, logger)

	// Optional audit journal.
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect database")
		}
		defer pool.Close()

		journal := store.NewJournal(infra.NewSQLRunner(pool, logger), logger)
		if err := journal.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("ensure journal schema")
		}
		journal.AttachLedger(lg)
		journal.WatchEvents(events)
		defer journal.Close()
		logger.Info().Msg("audit journal enabled")
	}

	// Optional Redis event mirror.
	if cfg.RedisURL != "" {
		publisher, err := stream.NewRedisPublisher(cfg.RedisURL, cfg.RedisEvents, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect redis")
		}
		publisher.Watch(events)
		defer publisher.Close()
		logger.Info().Str("channel", cfg.RedisEvents).Msg("redis event mirror enabled")
	}

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
		defer resolver.Close()
	}

	app := &handlers.App{
		Engine: coord,
		Loop:   loop,
		Ledger: lg,
		Stream: events,
		Logger: logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   lookup,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowedOrigins:  cfg.AllowedOrigins,
		Logger:          logger,
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	loop.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// buildCapabilities wires the four generation providers. The planner
// degrades to deterministic storyboards when Gemini is down; the other
// capabilities have no local stand-in, so their keys are required.
func buildCapabilities(cfg *infra.Config, logger infra.Logger) engine.Capabilities {
	if cfg.GeminiAPIKey == "" {
		logger.Fatal().Msg("GEMINI_API_KEY is required")
	}
	if cfg.RunwayAPIKey == "" {
		logger.Fatal().Msg("RUNWAY_API_KEY is required")
	}

	planner, err := plan.NewGeminiPlanner(plan.GeminiOptions{
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.GeminiPlanModel,
		BaseURL:  cfg.GeminiBaseURL,
		Fallback: plan.NewStaticPlanner(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init planner")
	}

	tts, err := speech.NewGeminiTTS(speech.GeminiOptions{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiTTSModel,
		BaseURL: cfg.GeminiBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init tts")
	}

	generator, err := image.NewGeminiGenerator(image.GeminiOptions{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiImageModel,
		BaseURL: cfg.GeminiBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init image generator")
	}

	runway, err := video.NewRunway(video.RunwayOptions{
		APIKey:  cfg.RunwayAPIKey,
		BaseURL: cfg.RunwayBaseURL,
		Model:   cfg.RunwayModel,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init video client")
	}

	return engine.Capabilities{
		Planner: planner,
		Speech:  tts,
		Image:   generator,
		Video:   runway,
	}
}
