package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/config"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/engine"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/logger"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/services"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/services/queue"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/storage"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting engine worker",
		"environment", cfg.Environment,
		"redis_url", cfg.RedisURL)

	worldPath := os.Getenv("WORLD_FILE")
	if worldPath == "" {
		worldPath = "./data/world.json"
	}
	wf, err := config.LoadWorldFile(worldPath)
	if err != nil {
		log.Error("Failed to load world file", "path", worldPath, "error", err)
		os.Exit(1)
	}
	log.Info("World loaded",
		"settings", len(wf.Settings),
		"characters", len(wf.Characters),
		"rules", len(wf.Rules))

	queueClient, err := queue.NewClient(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			log.Error("Error closing queue client", "error", err)
		}
	}()
	postQueue := queue.NewPostQueue(queueClient)
	log.Info("Queue service initialized successfully")

	store := storage.NewRedisStore(cfg.RedisURL, log)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err := store.Ping(pingCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing storage", "error", err)
		}
	}()
	log.Info("Storage service initialized successfully")

	gateway := services.NewOpenAICompatService(cfg.LLMBaseURL, cfg.LLMAPIKey)

	engineCfg := engine.Config{
		Narrator: engine.NarratorConfig{
			BasePrompt:  wf.NarratorPrompt,
			Model:       cfg.NarratorModel,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		},
		Characters:     wf.CanonicalCharacters(),
		JudgeModel:     cfg.JudgeModel,
		UtilityModel:   cfg.UtilityModel,
		FallbackModels: cfg.FallbackModels,
		NPCMaxTokens:   cfg.MaxTokens,
		NPCTemperature: cfg.Temperature,
	}

	// Session locking shares the queue's Redis connection.
	redisClient := queueClient.GetRedisClient()

	// Any session served by this worker shares the authored map. The
	// worker places each session's player at the world's start setting.
	geo := wf.BuildMap("")

	w := worker.New(postQueue, store, gateway, geo, engineCfg, redisClient, log, os.Getenv("WORKER_ID"))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("Worker started, waiting for posts...")

	<-quit
	log.Info("Worker shutdown signal received")

	w.Stop()
	time.Sleep(2 * time.Second)

	log.Info("Worker exited")
}
