package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fabriclabs/unshub/internal/automap"
	"github.com/fabriclabs/unshub/internal/browser"
	"github.com/fabriclabs/unshub/internal/config"
	"github.com/fabriclabs/unshub/internal/connector"
	"github.com/fabriclabs/unshub/internal/debug"
	"github.com/fabriclabs/unshub/internal/eventbus"
	"github.com/fabriclabs/unshub/internal/nscache"
	"github.com/fabriclabs/unshub/internal/pipeline"
	"github.com/fabriclabs/unshub/internal/store"
	"github.com/fabriclabs/unshub/internal/structure"
	"github.com/fabriclabs/unshub/internal/telemetry"
	"github.com/fabriclabs/unshub/internal/topics"
	"github.com/fabriclabs/unshub/internal/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub: connectors, pipeline, and namespace services",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg *config.Config) error {
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "unshub", Version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	bus := eventbus.New(log)
	defer bus.Close()

	// Namespace model: hierarchy template, structure service, path cache.
	hierarchy := config.DefaultHierarchy()
	if cfg.Hierarchy.File != "" {
		loaded, err := config.LoadHierarchy(cfg.Hierarchy.File)
		if err != nil {
			return err
		}
		hierarchy = loaded
	}
	svc, err := structure.New(hierarchy, bus, log)
	if err != nil {
		return err
	}
	nsCache := nscache.New(svc, log)
	if err := nsCache.Attach(bus); err != nil {
		return err
	}
	defer nsCache.Detach()
	nsCache.Rebuild()

	if cfg.Hierarchy.File != "" {
		err := config.WatchFile(ctx, cfg.Hierarchy.File, log, func() {
			log.Warn("hierarchy file changed on disk; restart to apply", "file", cfg.Hierarchy.File)
		})
		if err != nil {
			log.Warn("hierarchy watch unavailable", "error", err)
		}
	}

	// Storage and the topic repository.
	rt, hist, repo, closeStores, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	// Topic browser projection over the repository.
	cache := browser.New(repo, log)
	if err := cache.Initialize(ctx); err != nil {
		return err
	}
	if err := cache.Attach(bus); err != nil {
		return err
	}
	defer cache.Detach()

	// Ingestion pipeline with the browser as the known-topic source.
	pipe := pipeline.New(rt, hist, bus, cache, pipeline.Options{
		Capacity:      cfg.Pipeline.Capacity,
		BatchSize:     cfg.Pipeline.BatchSize,
		BatchInterval: cfg.Pipeline.BatchInterval,
		DrainDeadline: cfg.Pipeline.DrainDeadline,
	}, log)
	pipe.Start()
	defer pipe.Stop()
	if err := telemetry.RegisterPipelineMetrics(pipe); err != nil {
		log.Warn("pipeline metrics unavailable", "error", err)
	}

	adapter := connector.NewBusAdapter(pipe, log)
	if err := adapter.Attach(bus); err != nil {
		return err
	}
	defer adapter.Detach()

	// Auto-mapper resolving unbound topics against the namespace cache.
	worker := automap.NewWorker(automap.New(nsCache), bus, log)
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer worker.Stop()

	// Southbound connectors.
	var g errgroup.Group
	for _, nc := range cfg.Connector.NATS {
		if !nc.Enabled {
			continue
		}
		c := connector.NewNATS(types.ConnectorConfig{
			Name:    nc.Name,
			Kind:    types.ConnectorNatsInput,
			Enabled: true,
			Address: nc.URL,
			Subject: nc.Subject,
		}, log)
		sink := connector.BusSink(bus, nc.Name)
		g.Go(func() error { return c.Start(ctx, sink) })
	}

	log.Info("unshub serving", "version", Version, "storage", cfg.Storage.Backend)
	<-ctx.Done()
	log.Info("shutting down")
	if err := g.Wait(); err != nil {
		log.Warn("connector shutdown", "error", err)
	}
	return nil
}

// openStorage builds the realtime store, historical store, and topic
// repository per the storage config, returning one close function for all.
func openStorage(ctx context.Context, cfg *config.Config) (store.RealtimeStore, store.HistoricalStore, topics.Repository, func(), error) {
	if cfg.Storage.Backend == "memory" {
		var hist store.HistoricalStore = store.NewMemoryHistorical()
		if !cfg.Storage.Historical {
			hist = store.NoopHistorical{}
		}
		return store.NewMemoryRealtime(), hist, topics.NewMemoryRepository(), func() {}, nil
	}

	db, err := store.OpenSQLite(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	repo, err := topics.OpenSQLite(ctx, cfg.Storage.Path)
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, err
	}
	closeAll := func() {
		_ = repo.Close()
		_ = db.Close()
	}
	var hist store.HistoricalStore = db
	if !cfg.Storage.Historical {
		hist = store.NoopHistorical{}
	}
	return db, hist, repo, closeAll, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// --verbose / UNSHUB_DEBUG and --quiet override the configured level.
	if debug.Enabled() {
		lvl = slog.LevelDebug
	}
	if debug.IsQuiet() {
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
