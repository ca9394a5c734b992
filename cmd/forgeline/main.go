package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	fhttp "github.com/forgeline/forgeline/internal/adapter/http"
	"github.com/forgeline/forgeline/internal/adapter/litellm"
	fnats "github.com/forgeline/forgeline/internal/adapter/nats"
	fotel "github.com/forgeline/forgeline/internal/adapter/otel"
	"github.com/forgeline/forgeline/internal/adapter/postgres"
	"github.com/forgeline/forgeline/internal/adapter/telegram"
	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/domain/budget"
	"github.com/forgeline/forgeline/internal/domain/delegation"
	"github.com/forgeline/forgeline/internal/git"
	"github.com/forgeline/forgeline/internal/logger"
	"github.com/forgeline/forgeline/internal/port/messagequeue"
	"github.com/forgeline/forgeline/internal/port/notifier"
	"github.com/forgeline/forgeline/internal/resilience"
	"github.com/forgeline/forgeline/internal/service"
	"github.com/forgeline/forgeline/internal/subproc"
	"github.com/forgeline/forgeline/internal/workspace"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"workspace", cfg.Workspace.Root,
		"max_approved_per_cycle", cfg.Decision.MaxApprovedPerCycle,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownOtel, err := fotel.Setup(ctx, cfg.OTLP, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Error("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := fotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := fnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	llmClient := litellm.NewClient(cfg.LLM)
	llmClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Workspace ---
	gitPool := git.NewPool(cfg.Git.MaxConcurrent)
	ws := workspace.NewManager(cfg.Workspace, gitPool)

	loader, err := service.NewContextLoader(ws, cfg.Forge.ContextCacheMB, cfg.Forge.ContextCharBudget)
	if err != nil {
		return fmt.Errorf("context loader: %w", err)
	}
	defer loader.Close()

	// --- Services ---
	store := postgres.NewStore(pool)

	var notifiers []notifier.Notifier
	if cfg.Telegram.BotToken != "" {
		notifiers = append(notifiers, telegram.NewNotifier(cfg.Telegram))
	}
	notify := service.NewNotificationService(notifiers)

	approvals := service.NewApprovalService(store, notify, queue)
	events := service.NewEventRecorder(store, queue)
	budgets := service.NewBudgetService(store, budget.Limits{
		PerTask:       cfg.Budget.PerTaskTokens,
		PerAgentMonth: cfg.Budget.PerAgentMonthly,
		GlobalMonth:   cfg.Budget.GlobalMonthly,
	})
	feedback := service.NewFeedbackService(store, cfg.Budget.PerTaskTokens)

	forge := service.NewForgeService(service.ForgeParams{
		Client:          llmClient,
		Loader:          loader,
		Workspace:       ws,
		Runner:          subproc.NewRunner(),
		Store:           store,
		Approvals:       approvals,
		Events:          events,
		Metrics:         metrics,
		Forge:           cfg.Forge,
		WorkspaceCfg:    cfg.Workspace,
		PlanningTokens:  cfg.Budget.PlanningSubBudget,
		MaxOutputTokens: cfg.LLM.MaxOutToken,
	})

	registry := service.NewRegistry(
		forge,
		service.NewResearchExecutor(llmClient, cfg.LLM.MaxOutToken),
		service.NewContentExecutor(llmClient, cfg.LLM.MaxOutToken),
	)

	cycle := service.NewCycleService(registry, budgets, feedback, store, events, metrics,
		cfg.Decision.MaxApprovedPerCycle, cfg.Budget.PerTaskTokens)

	stopCycle, err := queue.Subscribe(ctx, messagequeue.SubjectPlannerCycle, "forgeline-cycle", cycle.HandleBatch)
	if err != nil {
		return fmt.Errorf("cycle subscriber: %w", err)
	}
	defer stopCycle()
	slog.Info("cycle subscriber started", "subject", messagequeue.SubjectPlannerCycle)

	// --- HTTP ---
	handlers := fhttp.NewHandlers(store, approvals, budgets, []string{
		string(delegation.AgentForge),
		string(delegation.AgentResearch),
		string(delegation.AgentContent),
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           fhttp.NewRouter(handlers),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
