package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aiorg/internal/bootstrap"
	"github.com/nextlevelbuilder/aiorg/internal/bus"
	"github.com/nextlevelbuilder/aiorg/internal/config"
	"github.com/nextlevelbuilder/aiorg/internal/engine"
	"github.com/nextlevelbuilder/aiorg/internal/events"
	"github.com/nextlevelbuilder/aiorg/internal/gateway"
	"github.com/nextlevelbuilder/aiorg/internal/hitl"
	"github.com/nextlevelbuilder/aiorg/internal/notify"
	"github.com/nextlevelbuilder/aiorg/internal/org"
	"github.com/nextlevelbuilder/aiorg/internal/providers"
	"github.com/nextlevelbuilder/aiorg/internal/store"
	"github.com/nextlevelbuilder/aiorg/internal/store/pg"
	"github.com/nextlevelbuilder/aiorg/internal/store/sqlite"
)

var seedStarterOrg bool

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator: engine, HITL sweeper, and gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
	cmd.Flags().BoolVar(&seedStarterOrg, "seed", false, "seed a starter org on first run")
	return cmd
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	stores, err := openStores(cfg)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	if cfg.IsManagedMode() {
		logger.Info("storage: postgres (managed mode)")
	} else {
		logger.Info("storage: sqlite (standalone mode)", "path", cfg.Database.SQLitePath)
	}

	provider, err := providers.FromConfig(&cfg.Providers)
	if err != nil {
		logger.Error("failed to configure LLM provider", "error", err)
		os.Exit(1)
	}
	logger.Info("llm provider ready", "provider", provider.Name(), "model", provider.DefaultModel())

	eventBus := bus.New()
	emitter := events.NewEmitter(stores.Events, eventBus, logger)

	hitlMgr := hitl.NewManager(stores, emitter, logger)
	sweeper, err := hitl.NewSweeper(hitlMgr, cfg.HITL.SweepSchedule, logger)
	if err != nil {
		logger.Error("invalid hitl sweep schedule", "error", err)
		os.Exit(1)
	}

	eng := engine.New(stores, provider, emitter, hitlMgr, engine.Options{
		Workers:     cfg.Engine.Workers,
		QueueSize:   cfg.Engine.QueueSize,
		Temperature: cfg.Providers.Temperature,
		MaxTokens:   cfg.Providers.MaxTokens,
	}, logger)

	notifier := notify.FromConfig(cfg.Notify, emitter, logger)
	eng.SetNotifier(notifier)
	hitlMgr.SetAlerter(notifier)

	orgSvc := org.NewService(stores, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if seedStarterOrg {
		ownerEmail := cfg.Notify.Email.From
		if _, err := bootstrap.SeedOrg(ctx, stores, orgSvc, bootstrap.DefaultTemplate(ownerEmail), logger); err != nil {
			logger.Error("seed starter org failed", "error", err)
			os.Exit(1)
		}
	}

	if err := eng.Start(ctx); err != nil {
		logger.Error("engine start failed", "error", err)
		os.Exit(1)
	}
	go sweeper.Run(ctx)

	watcher := config.NewWatcher(cfgPath, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher disabled", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				// Secrets and pool sizes bind at startup; announce rather
				// than hot-swap half the wiring.
				logger.Info("config file changed; restart to apply", "path", cfgPath)
			}
		}()
	}

	gw := gateway.NewServer(cfg, stores, eng, orgSvc, hitlMgr, eventBus, logger)
	if err := gw.Start(ctx); err != nil {
		logger.Error("gateway stopped", "error", err)
	}

	eng.Stop()
	logger.Info("shutdown complete")
}

func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.IsManagedMode() {
		return pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
	}
	return sqlite.NewSQLiteStores(store.StoreConfig{SQLitePath: config.ExpandHome(cfg.Database.SQLitePath)})
}
