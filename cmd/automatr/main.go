package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/mor/automatr/internal/config"
	"github.com/mor/automatr/internal/logger"
	"github.com/mor/automatr/internal/metrics"
	"github.com/mor/automatr/listener"
	"github.com/mor/automatr/morcore"
	"github.com/mor/automatr/rules"
	"github.com/mor/automatr/settings"
	"github.com/mor/automatr/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Setup(ctx, logger.Options{
		Level:       cfg.LogLevel,
		OTEL:        cfg.OTELEnabled,
		ServiceName: cfg.OTELServiceName,
		SampleRate:  cfg.ErrorSampleRate,
		Version:     cfg.GitSHA,
	})
	log.Info("starting automatr",
		"environment", cfg.Environment,
		"exchange", cfg.RabbitMQExchange)

	err = run(ctx, cfg, log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := logger.Shutdown(shutdownCtx); serr != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown: %v\n", serr)
	}

	if err != nil {
		logger.Fatal("automatr stopped", "error", err)
	}
	log.Info("automatr stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	collector := metrics.NewCollector()

	client, err := morcore.New(morcore.Options{
		BaseURL:      cfg.MorCoreURL,
		User:         cfg.MorCoreUser,
		Password:     cfg.MorCorePassword,
		TokenTimeout: cfg.MorCoreTokenTimeout,
		Timeout:      cfg.HTTPTimeout,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	store, closeStore, err := openSettings(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var resolver *rules.VariableResolver
	if cfg.VariableSource == string(rules.VariablesRemote) {
		resolver = rules.NewRemoteResolver(store, log)
	} else {
		resolver = rules.NewEmbeddedResolver(cfg.Overrides, log)
	}
	log.Info("variable source", "mode", resolver.Mode(), "overrides", len(cfg.Overrides))

	matcher, err := rules.NewCELMatcher()
	if err != nil {
		return err
	}

	workflows, err := loadWorkflows(cfg)
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}

	manager := workflow.NewManager()
	listeners := make([]*listener.Listener, 0, len(workflows))
	for _, wf := range workflows {
		engine, err := manager.CreateEngine(wf, rules.Options{
			Settings: rules.Settings{
				Production: cfg.Production(),
				BotUser:    cfg.BotUserEmail,
			},
			Fetcher:   client,
			Actions:   client,
			Matcher:   matcher,
			Variables: resolver,
			Recorder:  collector,
			Logger:    log,
		})
		if err != nil {
			return err
		}

		listeners = append(listeners, listener.New(listener.Config{
			URL:        cfg.RabbitMQURL,
			Exchange:   cfg.RabbitMQExchange,
			RoutingKey: wf.RoutingKey,
			Workflow:   wf.Name,
			Prefetch:   cfg.PrefetchCount,
		}, engine, collector, log))

		log.Info("workflow loaded", "workflow", wf.Name, "routing_key", wf.RoutingKey,
			"policy", wf.Policy, "action", wf.Action, "active_rule_sets", len(wf.ActiveRuleSets()))
	}

	httpServer := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: NewServer(ServerOptions{
			Manager:   manager,
			Listeners: listeners,
			Store:     store,
			Programs:  matcher,
			Metrics:   collector.Handler(),
			Version:   cfg.GitSHA,
			Logger:    log,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		g.Go(func() error {
			if err := l.Run(gctx); err != nil {
				return fmt.Errorf("listener %s: %w", l.Workflow(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		log.Info("ops server starting", "addr", cfg.OpsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down ops server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openSettings opens the configured settings store. The Postgres store wins
// over the HTTP collection; with neither configured the store is nil.
func openSettings(ctx context.Context, cfg *config.Config, log *slog.Logger) (settings.Store, func(), error) {
	switch {
	case cfg.SettingsDatabaseURL != "":
		db, err := sql.Open("postgres", cfg.SettingsDatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open settings database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping settings database: %w", err)
		}
		log.Info("settings store: postgres")
		return settings.NewPostgresStore(db), func() { db.Close() }, nil

	case cfg.SettingsURL != "":
		log.Info("settings store: http", "url", cfg.SettingsURL)
		return settings.NewHTTPStore(cfg.SettingsURL, cfg.HTTPTimeout, log), func() {}, nil

	default:
		return nil, func() {}, nil
	}
}

func loadWorkflows(cfg *config.Config) ([]*rules.Workflow, error) {
	if cfg.WorkflowDir != "" {
		return workflow.LoadDir(cfg.WorkflowDir)
	}
	return workflow.LoadBuiltin()
}
