package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/marksewell/chat-sync/chatsync"
	"github.com/marksewell/chat-sync/internal/cache"
	"github.com/marksewell/chat-sync/internal/config"
	"github.com/marksewell/chat-sync/internal/logging"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("chat-sync starting",
		slog.String("version", Version),
		slog.String("device", cfg.DeviceName),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := cache.Load(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer store.Close()

	client := chatsync.NewClient(chatsync.ClientConfig{
		BaseURL:   cfg.APIBaseURL,
		AccountID: cfg.AccountID,
		Token:     store.Token(),
		Credentials: chatsync.Credentials{
			Email:    cfg.Email,
			Password: cfg.Password,
		},
		OnToken: func(token string) {
			if err := store.SetToken(token); err != nil {
				logger.Warn("failed to save token", slog.String("error", err.Error()))
			}
		},
	}, logger)

	if err := client.EnsureSession(ctx); err != nil {
		return fmt.Errorf("signing in: %w", err)
	}

	sched := chatsync.NewScheduler(logger)
	defer sched.Stop()

	tracker := chatsync.NewTracker(store, logger)

	var assistant chatsync.Responder
	if cfg.OpenAIKey != "" {
		assistant = chatsync.NewAssistant(chatsync.AssistantConfig{
			APIKey:       cfg.OpenAIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			DefaultModel: cfg.DefaultModel,
			ChunkTimeout: cfg.StreamChunkTimeout,
			TotalTimeout: cfg.StreamTotalTimeout,
		}, logger)
	}

	var rag chatsync.ContextProvider
	if cfg.RAGServiceURL != "" {
		rag = chatsync.NewRAGClient(cfg.RAGServiceURL, cfg.RAGTimeout, logger)
	}

	engine := chatsync.NewEngine(chatsync.EngineConfig{
		Remote:    client,
		Cache:     store,
		Tracker:   tracker,
		Scheduler: sched,
		Assistant: assistant,
		RAG:       rag,
	}, logger)

	// Paint from cache before any network round trip.
	engine.Boot()
	defer engine.Flush()

	consumer := chatsync.NewConsumer(chatsync.ConsumerConfig{
		Host:      cfg.RealtimeHost,
		AccountID: cfg.AccountID,
		Device:    cfg.DeviceName,
		Sink:      engine,
		Token:     client.Token,
		OnConnect: func() {
			// Re-drain whatever stalled while offline.
			go engine.DrainUnsynced(ctx)
		},
	}, logger)
	defer consumer.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Listen(gctx)
	})

	g.Go(func() error {
		if err := engine.LoadUserData(gctx); err != nil {
			// Cached state keeps the app usable; reconciliation reruns on
			// the next reconnect.
			logger.Warn("initial reconciliation failed", slog.String("error", err.Error()))
		}
		return nil
	})

	return g.Wait()
}
