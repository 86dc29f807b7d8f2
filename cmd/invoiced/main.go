package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/invoice-extractor/internal/api/openai"
	"github.com/tjfontaine/invoice-extractor/internal/chat"
	"github.com/tjfontaine/invoice-extractor/internal/config"
	"github.com/tjfontaine/invoice-extractor/internal/extractor"
	"github.com/tjfontaine/invoice-extractor/internal/promptcache"
	"github.com/tjfontaine/invoice-extractor/internal/server"
	"github.com/tjfontaine/invoice-extractor/internal/storage"
	"github.com/tjfontaine/invoice-extractor/internal/storage/memory"
	"github.com/tjfontaine/invoice-extractor/internal/storage/sqldb"
	"github.com/tjfontaine/invoice-extractor/internal/telemetry"
	"github.com/tjfontaine/invoice-extractor/internal/usage"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.OpenAI.APIKey == "" {
		log.Fatal("No OpenAI API key configured (set INVX_OPENAI__API_KEY or OPENAI_API_KEY)")
	}

	shutdownTracer, err := telemetry.InitTracer("invoice-extractor", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	if cfg.Uploads.Dir != "" {
		if err := os.MkdirAll(cfg.Uploads.Dir, 0o755); err != nil {
			log.Fatalf("Failed to create uploads dir: %v", err)
		}
	}

	var clientOpts []openai.ClientOption
	if cfg.OpenAI.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	llm := openai.NewClient(cfg.OpenAI.APIKey, clientOpts...)

	cache := promptcache.New(store, cfg.Cache.Enabled, logger)
	prices := cfg.PriceTable()
	processor := extractor.New(extractor.Deps{
		LLM:     llm,
		Cache:   cache,
		Usage:   store,
		Prices:  prices,
		Fetcher: &extractor.HTTPFetcher{Client: &http.Client{Timeout: 30 * time.Second}},
		Logger:  logger,
		Config: extractor.Config{
			TextModel:   cfg.OpenAI.TextModel,
			VisionModel: cfg.OpenAI.VisionModel,
			MaxTokens:   cfg.OpenAI.MaxTokens,
		},
	})

	handlers := &server.Handlers{
		Processor:  processor,
		Usage:      usage.NewService(store),
		Chat:       chat.New(llm, store, store, store, prices, cfg.OpenAI.TextModel, logger),
		Invoices:   store,
		Cache:      cache,
		UploadsDir: cfg.Uploads.Dir,
		Logger:     logger,
	}

	srv := server.New(cfg.Server.Port, logger)
	handlers.Mount(srv.Router)

	logger.Info("invoice extractor configured",
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("cache_enabled", cfg.Cache.Enabled),
		slog.String("text_model", cfg.OpenAI.TextModel),
		slog.String("vision_model", cfg.OpenAI.VisionModel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	logger.Info("shutdown complete")
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Driver == "memory" {
		return memory.New(), nil
	}
	return sqldb.New(sqldb.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
	})
}
