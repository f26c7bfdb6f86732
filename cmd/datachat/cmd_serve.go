package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/datachat/internal/config"
	"github.com/user/datachat/internal/datacontext"
	"github.com/user/datachat/internal/engine"
	"github.com/user/datachat/internal/insight"
	"github.com/user/datachat/internal/memory"
	"github.com/user/datachat/internal/orchestrator"
	"github.com/user/datachat/internal/scheduler"
	"github.com/user/datachat/internal/server"
	"github.com/user/datachat/internal/store"
	"github.com/user/datachat/internal/tools"
	"github.com/user/datachat/pkg/llm"
	"github.com/user/datachat/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the datachat HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	loop, st, mem, err := buildAgent(cfg)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Task{
		Name:     "memory-compact",
		Schedule: cfg.CompactSchedule,
		Run:      mem.Compact,
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := server.New(loop, st, mem, cfg.MaxConcurrent, cfg.LLM.APIKey != "")
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		slog.Info("datachat started",
			"listen", cfg.ListenAddr,
			"data_dir", cfg.DataDir,
			"max_concurrent", cfg.MaxConcurrent,
			"max_tool_rounds", cfg.MaxToolRounds,
			"llm_model", cfg.LLM.Model,
			"gpt_enabled", cfg.LLM.APIKey != "",
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildAgent assembles the data store, tool registry, and orchestration loop
// shared by the serve and ask commands.
func buildAgent(cfg *config.Config) (*orchestrator.Loop, *store.Store, *memory.Store, error) {
	dataDir := filepath.Join(cfg.DataDir, "data")
	if err := store.Generate(dataDir, cfg.Demo.NumUsers, cfg.Demo.NumEvents); err != nil {
		return nil, nil, nil, fmt.Errorf("generate demo data: %w", err)
	}
	st, err := store.LoadDir(dataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load data: %w", err)
	}
	eng := engine.New(st)
	summarizer := insight.New(st, eng)

	registry := tools.NewRegistry()
	registry.Register(tools.NewChart(eng))
	registry.Register(tools.NewSQLTutor(st))
	registry.Register(tools.NewBusinessInsight(summarizer))
	registry.Register(tools.NewStakeholder())
	registry.RegisterInternal(tools.NewAnalysisPlan(eng))

	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	builder, err := datacontext.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create context builder: %w", err)
	}
	systemPrompt := builder.SystemPrompt(st, eng)

	mem, err := memory.New(filepath.Join(cfg.DataDir, "memory.json"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open session memory: %w", err)
	}

	stabilizer := orchestrator.NewStabilizer(st)
	loop := orchestrator.New(provider, registry, stabilizer, mem, systemPrompt, cfg.MaxToolRounds)
	return loop, st, mem, nil
}
