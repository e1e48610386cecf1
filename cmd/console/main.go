package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/config"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/engine"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/services"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/storage"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/session"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/vars"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The TUI owns stdout; logs go to a file when requested, otherwise away.
	var logW io.Writer = io.Discard
	if path := os.Getenv("CONSOLE_LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		logW = f
	}
	log := slog.New(slog.NewTextHandler(logW, &slog.HandlerOptions{Level: cfg.LogLevel}))

	worldPath := os.Getenv("WORLD_FILE")
	if worldPath == "" {
		worldPath = "./data/world.json"
	}
	wf, err := config.LoadWorldFile(worldPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load world file %s: %v\n", worldPath, err)
		os.Exit(1)
	}

	sess := session.New()
	sess.ThoughtRules = wf.Rules
	sess.TimerRules = wf.Timers
	sess.GameDatetime = wf.GameDatetime
	sess.Variables = vars.NewStore().Snapshot()

	geo := wf.BuildMap(sess.ID.String())

	var store storage.Store
	if os.Getenv("STORAGE") == "redis" {
		rs := storage.NewRedisStore(cfg.RedisURL, log)
		if err := rs.Ping(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Redis: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = rs.Close() }()
		store = rs
	} else {
		store = storage.NewMockStore()
	}

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

	sink := NewTypewriterSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch := engine.NewOrchestrator(ctx, engineCfg, sess, geo, gateway, store, sink, log)

	p := tea.NewProgram(NewConsoleUI(orch, sink),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithMouseAllMotion())

	// Wire the sink and the settle callback before the actor goroutine
	// starts; a zero-delay timer can settle a round immediately.
	sink.Attach(p.Send)
	orch.OnSettled(func() {
		snap := sess.Variables
		p.Send(roundSettledMsg{
			turn:  sess.TurnCount,
			scene: sess.SceneNumber,
			vars:  snap.Global,
		})
	})
	go orch.Run()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}
