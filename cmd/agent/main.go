package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"megagym/internal/adapter/channel"
	"megagym/internal/adapter/payments"
	"megagym/internal/adapter/store"
	"megagym/internal/adapter/tool"
	"megagym/internal/domain"
	"megagym/internal/infra/config"
	"megagym/internal/infra/logger"
	"megagym/internal/infra/tracer"
	"megagym/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	// 1. Config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Storage
	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()

	if cfg.Store.Seed {
		if err := db.Seed(ctx); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	// 4. LLM providers
	defaultLLM, err := initLLM(cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 5. Payments
	culqi := payments.NewCulqiClient(cfg.Payments, log)

	// 6. Tools
	tools := tool.NewRegistry(log)
	if err := registerTools(tools, db, culqi, cfg, log); err != nil {
		return fmt.Errorf("tools: %w", err)
	}

	// 7. Agent & router
	agent := usecase.NewAgent(usecase.AgentDeps{
		LLM:           defaultLLM,
		History:       db,
		Tools:         tools,
		Prompt:        usecase.NewPromptBuilder(cfg.Gym),
		Logger:        log,
		Model:         cfg.Agent.Model,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		HistoryWindow: cfg.Agent.HistoryWindow,
		Timeout:       cfg.Agent.Timeout,
	})

	wa := channel.NewWhatsAppChannel(cfg.WhatsApp, log)
	wa.Mount("/payments/culqi", payments.NewConfirmationHandler(db, wa, log))
	router := usecase.NewRouter(agent, db, wa, log)

	// 8. Graceful shutdown on SIGINT / SIGTERM
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 9. Start the channel
	if err := wa.Start(ctx, router.Handler()); err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	log.Info("megagym agent started",
		"model", cfg.Agent.Model,
		"provider", defaultLLM.Name(),
		"webhook", wa.BoundAddr(),
	)

	// 10. Renewal reminders
	if cfg.Reminders.Enabled {
		reminders := usecase.NewReminderScheduler(db, wa, cfg.Reminders, log)
		if err := reminders.Start(ctx); err != nil {
			return fmt.Errorf("reminders: %w", err)
		}
		defer reminders.Stop()
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := wa.Stop(shutdownCtx); err != nil {
		log.Error("channel shutdown error", "error", err)
	}

	return nil
}

// registerTools wires the six assistant tools against storage and payments.
func registerTools(registry *tool.Registry, db *store.SQLiteStore, culqi *payments.CulqiClient, cfg *config.Config, log *slog.Logger) error {
	tools := []domain.Tool{
		tool.NewPlansTool(db, log),
		tool.NewClassesTool(db, log),
		tool.NewMemberStatusTool(db, log),
		tool.NewRegisterTool(db, log),
		tool.NewBookingTool(db, db, log),
		tool.NewPaymentLinkTool(culqi, cfg.Payments.MaxPerMinute, log),
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}
