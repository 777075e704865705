// Command researchd runs the research orchestrator's HTTP surface: the
// streaming multiagent endpoint, the objective/task/step/workflow CRUD
// routes, and scheduler introspection (SPEC_FULL.md §6).
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

	"github.com/spf13/cobra"

	"github.com/researchflow/orchestrator/internal/config"
	"github.com/researchflow/orchestrator/internal/domainstore"
	"github.com/researchflow/orchestrator/internal/httpapi"
	"github.com/researchflow/orchestrator/internal/resource"
	"github.com/researchflow/orchestrator/internal/workflow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "researchd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "researchd",
		Short: "Research orchestrator: multi-agent graph engine, resource pools, and streaming API",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults baked in if absent)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newMigrateCmd(&configPath))

	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the store's tables if they do not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Println("migration complete")
			return nil
		},
	}
}

func openStore(cfg config.Config) (domainstore.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return domainstore.NewSQLiteStore(cfg.Store.DSN)
	case "mysql":
		return domainstore.NewMySQLStore(cfg.Store.DSN)
	default:
		return domainstore.NewMemStore(), nil
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// serve wires every component SPEC_FULL.md's "Core" value (§9, mapping
// the source's module-level singletons to explicit dependency
// injection) holds: the store, the resource manager and its background
// reapers, the agent registry backing every node, and the chi router,
// then runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config) error {
	log := newLogger(cfg)

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	chatModel, err := workflow.NewChatModel(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("construct chat model: %w", err)
	}
	agents := workflow.NewDefaultAgentRegistry(chatModel)

	resMgr := resource.NewManager(resource.Config{
		LLMMaxConcurrent:        cfg.Resources.LLMMaxConcurrent,
		LLMRateLimit:            cfg.Resources.LLMRateLimit,
		DBMaxConnections:        cfg.Resources.DBMaxConnections,
		DBIdleTimeout:           cfg.Resources.DBIdleTimeout,
		DBMaxAge:                cfg.Resources.DBMaxAge,
		WorkerMaxConcurrent:     cfg.Resources.WorkerMax,
		WorkerTaskTimeout:       cfg.Resources.WorkerTimeout,
		APIMaxConcurrentPerName: cfg.Resources.APIMaxConcurrent,
		APIRateLimitPerName:     cfg.Resources.APIRateLimit,
		APIWindow:               cfg.Resources.APIWindow,
	})
	resMgr.StartReapers(ctx)

	sched := resource.NewScheduler(store, cfg.Scheduler.CheckInterval, cfg.Scheduler.TaskTimeout, log)
	go sched.Run(ctx)

	server := &httpapi.Server{
		Store: store,
		Res:   resMgr,
		Deps: workflow.Deps{
			Agents: agents,
			Res:    resMgr,
			Store:  store,
		},
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httpapi.NewRouter(server),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming responses manage their own lifetime
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("researchd listening", "addr", cfg.HTTP.Addr, "store", cfg.Store.Driver, "llm_provider", cfg.LLM.Provider)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("researchd shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
