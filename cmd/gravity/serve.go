package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/antigravity-dev/gravity/internal/bus"
	"github.com/antigravity-dev/gravity/internal/config"
	"github.com/antigravity-dev/gravity/internal/engine"
	"github.com/antigravity-dev/gravity/internal/knowledge"
	"github.com/antigravity-dev/gravity/internal/llm"
	"github.com/antigravity-dev/gravity/internal/orchestrator"
	"github.com/antigravity-dev/gravity/internal/repotree"
	"github.com/antigravity-dev/gravity/internal/server"
	"github.com/antigravity-dev/gravity/internal/state"
)

var (
	serveHost     string
	servePort     int
	serveWorkers  int
	serveRolesDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Gravity daemon",
	Long: `Run the Gravity daemon: the HTTP API, the worker pool, the lease
sweeper, and the event stream, all in one process.

Tasks are persisted in SQLite, so a restart resumes whatever was running.

Examples:
  gravity serve
  gravity serve --port 9000 --workers 8
  GRAVITY_BUS=nats NATS_URL=nats://127.0.0.1:4222 gravity serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Worker pool size (overrides config)")
	serveCmd.Flags().StringVar(&serveRolesDir, "roles", "", "Directory of per-role YAML prompt packs")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveWorkers > 0 {
		cfg.Engine.Workers = serveWorkers
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate state store: %w", err)
	}

	knowledgePath, err := cfg.KnowledgePath()
	if err != nil {
		return err
	}
	notes, err := knowledge.NewStore(knowledgePath)
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	defer notes.Close()

	eventBus, err := bus.New(cfg.Bus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer eventBus.Close()

	client, err := llm.NewClient(cfg.Anthropic)
	if err != nil {
		return fmt.Errorf("anthropic client: %w", err)
	}

	roles, err := config.LoadRoleConfigs(serveRolesDir)
	if err != nil {
		return fmt.Errorf("load role configs: %w", err)
	}

	eng := engine.New(engine.Options{
		Store:     store,
		Bus:       eventBus,
		Client:    client,
		Knowledge: notes,
		Roles:     roles,
		Config:    cfg.Engine,
	})

	trees, err := repotree.NewCache(cfg.Tree.CacheSize)
	if err != nil {
		return fmt.Errorf("tree cache: %w", err)
	}
	var watcher *repotree.Watcher
	if cfg.Tree.Watch {
		watcher, err = repotree.NewWatcher(trees)
		if err != nil {
			log.Printf("file watching unavailable: %v", err)
		} else {
			defer watcher.Close()
			repos, err := store.ListRepositories()
			if err != nil {
				return fmt.Errorf("list repositories: %w", err)
			}
			for _, repo := range repos {
				if err := watcher.Watch(repo.ID, repo.Path); err != nil {
					log.Printf("watch %s: %v", repo.Path, err)
				}
			}
		}
	}

	orch := orchestrator.New(store, eng, eventBus, cfg.Engine)

	srvOpts := server.Options{
		Store:     store,
		Bus:       eventBus,
		Scheduler: orch,
		Knowledge: notes,
		Trees:     trees,
		Config:    cfg.Server,
	}
	if watcher != nil {
		srvOpts.Watcher = watcher
	}
	srv := server.New(srvOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
		return orch.Shutdown()
	})

	fmt.Printf("%s gravity %s listening on http://%s:%d (credentials: %s)\n",
		color.GreenString("✓"), Version(), cfg.Server.Host, cfg.Server.Port,
		config.GetAPIKeySource(cfg.Anthropic))
	return g.Wait()
}
