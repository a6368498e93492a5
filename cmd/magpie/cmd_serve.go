package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/magpie/internal/browser"
	"github.com/user/magpie/internal/dispatch"
	"github.com/user/magpie/internal/engine"
	"github.com/user/magpie/internal/engine/tools"
	"github.com/user/magpie/internal/goals"
	"github.com/user/magpie/internal/notify"
	"github.com/user/magpie/internal/platform"
	"github.com/user/magpie/internal/ratelimit"
	"github.com/user/magpie/internal/router"
	"github.com/user/magpie/internal/scheduler"
	"github.com/user/magpie/internal/state"
	"github.com/user/magpie/internal/syncer"
	"github.com/user/magpie/internal/types"
	"github.com/user/magpie/internal/webhook"
	"github.com/user/magpie/pkg/llm"
	"github.com/user/magpie/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the magpie daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "magpie.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	runs := state.NewRunStore(cfg.DataDir)
	steps := state.NewStepStore(cfg.DataDir)
	contacts := state.NewContactStore(cfg.DataDir)
	cursors := state.NewCursorStore(cfg.DataDir)
	templates := state.NewTemplateStore(cfg.DataDir)
	goalStore := state.NewGoalStore(cfg.DataDir)

	sessionKey, err := cfg.SessionKeyBytes()
	if err != nil {
		return err
	}
	sessions, err := state.NewSessionStore(cfg.DataDir, sessionKey)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	// LLM provider
	provider := openai.New(&llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		DefaultModel: cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
	})

	prompts, err := engine.NewPromptBuilder(cfg.LLM.Model, cfg.LLM.PromptBudget)
	if err != nil {
		return fmt.Errorf("create prompt builder: %w", err)
	}

	// Platform client; absent when no API gateway is configured.
	var client *platform.Client
	if cfg.Platform.BaseURL != "" {
		tokens := platform.StaticTokens{}
		for id, token := range cfg.AccountTokens() {
			tokens[types.AccountID(id)] = token
		}
		client = platform.NewClient(cfg.Platform.BaseURL, ratelimit.New(), tokens)
	}

	browsers := browser.NewManager(sessions)
	fetcher := router.NewFetcher()

	// Tool registry
	registry := engine.NewRegistry()
	registry.Register(tools.NewCreateContact(contacts))
	registry.Register(tools.NewEnrichContact(contacts))
	registry.Register(tools.NewArchiveContact(contacts))
	registry.Register(tools.NewFetchURL(fetcher, browsers))
	registry.Register(tools.NewScrapePage(browsers))
	registry.Register(tools.NewReportProgress())
	if cfg.Brave.APIKey != "" {
		registry.Register(tools.NewWebSearch(cfg.Brave.APIKey))
	} else {
		slog.Warn("web search disabled (no brave api key)")
	}
	if client != nil && len(cfg.Platform.Accounts) > 0 {
		// Publishing tools act as the first configured account.
		acctID := types.AccountID(cfg.Platform.Accounts[0].ID)
		registry.Register(tools.NewEngagePost(client, acctID))
		registry.Register(tools.NewPublishPost(client, acctID))
		registry.Register(tools.NewSaveDraft(client, acctID))
	} else {
		slog.Warn("publishing tools disabled (no platform accounts)")
	}

	// Engine
	eng := engine.New(provider, runs, steps, contacts, templates, registry, prompts, cfg.MaxSteps)
	eng.SetDefaultModel(cfg.LLM.Model)
	if client != nil {
		sync := syncer.New(cursors, syncer.NewPlatformSource(client), cfg.Sync.MaxPages)
		eng.SetSyncRunner(sync.Sync)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dispatcher
	queue := dispatch.NewQueue(int64(cfg.MaxConcurrent))
	queue.Start(ctx)
	defer queue.Stop()
	dispatcher := dispatch.New(runs, templates, queue, eng.Execute)

	tracker := goals.NewTracker(goalStore, steps)
	dispatcher.OnCompletion(tracker.OnRunCompleted)

	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		notifier, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
		dispatcher.OnCompletion(notifier.OnRunCompleted)
		slog.Info("telegram notifications enabled")
	} else {
		slog.Warn("telegram notifications disabled (no token or chat id)")
	}

	// Scheduler fires template runs
	sched := scheduler.New(templates, func(templateName string) {
		_, err := dispatcher.StartRun(ctx, dispatch.StartRequest{
			TemplateName: templateName,
			Trigger:      types.TriggerScheduled,
		})
		if err != nil {
			slog.Error("scheduled run failed to start", "template", templateName, "error", err)
		}
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Webhook HTTP server
	webhookSrv := webhook.NewServer(dispatcher, runs, steps, goalStore)
	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: webhookSrv,
	}
	go func() {
		slog.Info("webhook server started", "listen", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	slog.Info("magpie started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"max_steps", cfg.MaxSteps,
		"llm_model", cfg.LLM.Model,
		"accounts", len(cfg.Platform.Accounts),
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
