package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/conciergehq/concierge/internal/audit"
	"github.com/conciergehq/concierge/internal/config"
	"github.com/conciergehq/concierge/internal/events"
	"github.com/conciergehq/concierge/internal/httpapi"
	"github.com/conciergehq/concierge/internal/ledger"
	"github.com/conciergehq/concierge/internal/notify"
	"github.com/conciergehq/concierge/internal/observability"
	"github.com/conciergehq/concierge/internal/plan"
	"github.com/conciergehq/concierge/internal/provider"
	"github.com/conciergehq/concierge/internal/queue"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	bus := events.NewBus()

	ctx := context.Background()

	planStore, err := plan.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("plan store init failed: %v", err)
	}
	if planStore == nil {
		planStore = plan.NewMemoryStore()
		log.Printf("plan store: in-memory (set DATABASE_URL for postgres)")
	}
	defer planStore.Close()

	queueStore, err := queue.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("queue store init failed: %v", err)
	}
	if queueStore == nil {
		queueStore = queue.NewMemoryStore()
	}
	defer queueStore.Close()

	ledgerStore, err := ledger.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("ledger store init failed: %v", err)
	}
	if ledgerStore == nil {
		ledgerStore = ledger.NewMemoryStore()
	}
	defer ledgerStore.Close()

	auditStore, err := audit.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("audit store init failed: %v", err)
	}
	if auditStore == nil {
		auditStore = audit.NewMemoryStore()
	}
	defer auditStore.Close()

	notifyStore, err := notify.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("notification store init failed: %v", err)
	}
	if notifyStore == nil {
		notifyStore = notify.NewMemoryStore()
	}
	defer notifyStore.Close()

	registry := provider.NewBuiltinRegistry()

	worker := queue.NewService(queueStore, planStore, ledgerStore, registry, auditStore, bus, metrics, queue.ServiceConfig{
		ProviderTimeout: cfg.ProviderTimeout,
		BatchSize:       cfg.WorkerBatchSize,
	})

	policies := notify.NewStaticPolicies(notify.PolicySnapshot{
		PlanTier: notify.TierFree,
		AIOptIn:  true,
		Timezone: "UTC",
	})
	engine := notify.NewEngine(notifyStore, auditStore, metrics, policies, notify.EngineConfig{
		FreeTierDailyAILimit: cfg.FreeTierDailyAILimit,
		ProTierDailyAILimit:  cfg.ProTierDailyAILimit,
		UpsellWindow:         cfg.UpsellWindow,
	})
	worker.SetNotifier(engine)

	builder := plan.NewBuilder(planStore, worker, bus)
	sweeper := plan.NewSweeper(planStore)

	api := httpapi.New(cfg, planStore, builder, worker, engine, notifyStore, auditStore, sweeper, bus, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go worker.Run(runCtx, cfg.WorkerSweepInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
