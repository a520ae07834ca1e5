package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/claude/liftlog/internal/config"
	"github.com/claude/liftlog/internal/history"
	"github.com/claude/liftlog/internal/ingest/alpha"
	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/platform"
	"github.com/claude/liftlog/internal/resolver"
	"github.com/claude/liftlog/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	filePath := flag.String("file", "", "path to an Alpha Progression CSV export (required)")
	serverURL := flag.String("server", "", "send the export to a running liftlog server instead of the local state")
	apiKey := flag.String("api-key", os.Getenv("LIFTLOG_API_KEY"), "API key for -server")
	dryRun := flag.Bool("dry-run", false, "parse and resolve without writing history")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("liftlog-import", Version)
		return
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *filePath == "" {
		fmt.Fprintf(os.Stderr, "Usage: liftlog-import -file export.csv [-config config.yaml | -server <URL> -api-key KEY] [-dry-run]\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	f, err := os.Open(*filePath)
	if err != nil {
		log.Error("failed to open export", "error", err)
		os.Exit(1)
	}
	defer f.Close()

	ctx := context.Background()

	var result alpha.Result
	if *serverURL != "" {
		if *dryRun {
			fmt.Fprintf(os.Stderr, "Error: -dry-run cannot be combined with -server\n")
			os.Exit(1)
		}
		result, err = newUploader(strings.TrimRight(*serverURL, "/"), *apiKey).Send(ctx, f)
	} else {
		result, err = importLocal(ctx, *configPath, f, *dryRun, log)
	}
	if err != nil {
		log.Error("import failed", "error", err)
		os.Exit(1)
	}

	log.Info("import stats",
		"sessions", result.Sessions,
		"exercises", result.Exercises,
		"sets", result.Sets,
		"unresolved", len(result.Unresolved),
	)
	if len(result.Unresolved) > 0 {
		log.Info("exercises not in catalog", "names", result.Unresolved)
	}
	log.Info("import complete")
}

// importLocal merges the export into the state database the daemon uses.
// The daemon should be stopped; SQLite allows one writer.
func importLocal(ctx context.Context, configPath string, f *os.File, dryRun bool, log *slog.Logger) (alpha.Result, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return alpha.Result{}, fmt.Errorf("loading config: %w", err)
	}

	db, err := storage.Open(cfg.State.Dir)
	if err != nil {
		return alpha.Result{}, err
	}
	defer db.Close()

	client := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.APIKey, cfg.Platform.PageSize, cfg.Platform.Timeout, log)

	// Names resolve against the catalog, so a stale one is refreshed first.
	res := resolver.New(client, db, cfg.Catalog.MaxAge, log)
	if err := res.Start(ctx); err != nil {
		return alpha.Result{}, err
	}
	res.Wait()
	if st := res.Status(); st.Exercises == 0 {
		return alpha.Result{}, fmt.Errorf("exercise catalog is empty; check platform connectivity")
	}

	var merger alpha.HistoryMerger
	if dryRun {
		log.Info("DRY RUN mode: history will not be written")
		merger = discard{}
	} else {
		cache := history.New(client, db, cfg.History.Window, cfg.History.PerExercise, log)
		if err := cache.Load(ctx); err != nil {
			return alpha.Result{}, err
		}
		merger = cache
	}

	return alpha.NewProvider(res, merger, cfg.History.Location(), log).Import(ctx, f)
}

type discard struct{}

func (discard) Merge(context.Context, []models.HistorySession) error { return nil }
