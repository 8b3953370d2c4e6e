package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"eloqua-sms-bridge/config"
	"eloqua-sms-bridge/internal/adapters/eloqua"
	"eloqua-sms-bridge/internal/adapters/smsgateway"
	"eloqua-sms-bridge/internal/auth"
	"eloqua-sms-bridge/internal/events"
	"eloqua-sms-bridge/internal/handlers"
	"eloqua-sms-bridge/internal/services"
	"eloqua-sms-bridge/internal/store"
	"eloqua-sms-bridge/pkg/logger"
)

func main() {
	logger.InitLogger()

	log.Info().Msg("Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("database_url", cfg.DatabaseURL).Msg("Opening database...")
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := st.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	pub := events.NewPublisherFromEnv()
	defer pub.Close()

	tokens := auth.NewManager(cfg, st)
	platform := eloqua.NewClient(tokens)
	gateway, err := smsgateway.NewClient(cfg.GatewayBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize SMS gateway client")
	}

	tracker := services.NewTracker()
	evaluator := services.NewEvaluator(cfg, st, platform, pub)
	correlator := services.NewCorrelator(st, evaluator, pub)
	worker := services.NewSendWorker(cfg, st, gateway, platform, tracker, pub)
	sweeper := services.NewSweeper(cfg, st, evaluator)
	feeder := services.NewFeeder(cfg, st, platform)
	janitor := services.NewJanitor(cfg, st)

	h := handlers.NewHandlers(cfg, st, tokens, platform, evaluator, correlator)
	router := handlers.NewRouter(cfg, h)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for name, run := range map[string]func(context.Context){
		"send worker": worker.Run,
		"sweeper":     sweeper.Run,
		"feeder":      feeder.Run,
		"janitor":     janitor.Run,
	} {
		wg.Add(1)
		go func(name string, run func(context.Context)) {
			defer wg.Done()
			log.Info().Str("loop", name).Msg("Background loop started")
			run(ctx)
			log.Info().Str("loop", name).Msg("Background loop stopped")
		}(name, run)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received, draining...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	wg.Wait()

	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
	log.Info().Msg("Shutdown complete")
}
