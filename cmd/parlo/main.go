package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parlo-app/parlo/internal/animation"
	"github.com/parlo-app/parlo/internal/api"
	"github.com/parlo-app/parlo/internal/config"
	"github.com/parlo-app/parlo/internal/events"
	"github.com/parlo-app/parlo/internal/openai"
	"github.com/parlo-app/parlo/internal/orchestrator"
	"github.com/parlo-app/parlo/internal/session"
	"github.com/parlo-app/parlo/internal/speech"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("parlo starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.MongoURI == "" {
		slog.Error("MONGODB_URI is required")
		os.Exit(1)
	}
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	store, mongoClient, err := session.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	connectCancel()
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer mongoClient.Disconnect(context.Background())
	slog.Info("database connected", "database", cfg.MongoDatabase)

	// OpenAI client — chat and audio synthesis
	if cfg.OpenAIAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	llm := openai.NewClient(cfg.OpenAIAPIKey, "")
	slog.Info("openai client ready", "chat_model", cfg.ChatModel, "tts_model", cfg.TTSModel)

	// Viseme synthesizer
	if cfg.SpeechKey == "" {
		slog.Error("SPEECH_KEY is required")
		os.Exit(1)
	}
	visemes := speech.NewSynthesizer(cfg.SpeechKey, cfg.SpeechRegion, slog.Default())
	slog.Info("speech synthesizer ready", "region", cfg.SpeechRegion)

	// Event publisher (optional — parlo works without NATS, just no telemetry)
	var pub *events.Publisher
	if cfg.NatsURL != "" {
		pub, err = events.NewPublisher(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured — running without turn telemetry")
	}

	// Orchestrator — the main pipeline
	orchCfg := orchestrator.DefaultConfig()
	orchCfg.ChatModel = cfg.ChatModel
	orchCfg.TTSModel = cfg.TTSModel
	orch := orchestrator.New(store, llm, llm, visemes, animation.New(), pub, orchCfg, slog.Default())

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, orch, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("parlo ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("parlo stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
