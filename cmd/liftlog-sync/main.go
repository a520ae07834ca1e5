package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/claude/liftlog/internal/config"
	"github.com/claude/liftlog/internal/history"
	"github.com/claude/liftlog/internal/platform"
	"github.com/claude/liftlog/internal/resolver"
	"github.com/claude/liftlog/internal/storage"
	"github.com/claude/liftlog/internal/syncer"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// One-shot maintenance against the local state database while the daemon is
// stopped: refresh the exercise catalog, sync history, and replay queued
// session pushes.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	catalog := flag.Bool("catalog", false, "refresh the exercise catalog")
	hist := flag.Bool("history", false, "sync the history cache")
	drain := flag.Bool("drain", false, "replay queued session pushes")
	full := flag.Bool("full", false, "with -history, refetch the whole window instead of syncing changes")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("liftlog-sync", Version)
		return
	}
	if !*catalog && !*hist && !*drain {
		*catalog, *hist, *drain = true, true, true
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.State.Dir)
	if err != nil {
		log.Error("failed to open state database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	client := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.APIKey, cfg.Platform.PageSize, cfg.Platform.Timeout, log)
	if err := client.Ping(ctx); err != nil {
		log.Error("platform unreachable", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	if *catalog {
		g.Go(func() error {
			res := resolver.New(client, db, cfg.Catalog.MaxAge, log)
			if err := res.Refresh(gctx, true); err != nil {
				return fmt.Errorf("catalog: %w", err)
			}
			log.Info("catalog refreshed", "exercises", res.Status().Exercises)
			return nil
		})
	}
	if *hist {
		g.Go(func() error {
			cache := history.New(client, db, cfg.History.Window, cfg.History.PerExercise, log)
			if err := cache.Load(gctx); err != nil {
				return fmt.Errorf("history: %w", err)
			}
			sync := cache.Sync
			if *full {
				sync = cache.Refresh
			}
			if err := sync(gctx); err != nil {
				return fmt.Errorf("history: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("sync failed", "error", err)
		os.Exit(1)
	}

	if *drain {
		engine := syncer.New(client, db, syncer.Options{MaxAttempts: cfg.Sync.MaxAttempts}, log)
		sent, err := engine.Drain(ctx)
		if err != nil {
			log.Error("drain failed", "sent", sent, "error", err)
			os.Exit(1)
		}
		st, err := engine.Status(ctx)
		if err != nil {
			log.Error("reading sync status", "error", err)
			os.Exit(1)
		}
		log.Info("queue drained", "sent", sent, "remaining", st.QueueDepth)
	}
	log.Info("sync complete")
}
