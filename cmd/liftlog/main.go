package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
	"tailscale.com/tsnet"

	"github.com/claude/liftlog/internal/classifier"
	"github.com/claude/liftlog/internal/config"
	"github.com/claude/liftlog/internal/engine"
	"github.com/claude/liftlog/internal/history"
	"github.com/claude/liftlog/internal/ingest/alpha"
	"github.com/claude/liftlog/internal/mcp"
	"github.com/claude/liftlog/internal/platform"
	"github.com/claude/liftlog/internal/resolver"
	"github.com/claude/liftlog/internal/server"
	"github.com/claude/liftlog/internal/session"
	"github.com/claude/liftlog/internal/storage"
	"github.com/claude/liftlog/internal/syncer"
	"github.com/claude/liftlog/internal/vitals"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// historyFollowDelay gives the final push of a finished session time to
// reach the platform before history is synced back.
const historyFollowDelay = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	mcpStdio := flag.Bool("mcp-stdio", false, "serve MCP over stdio against a running liftlog server")
	remote := flag.String("remote", os.Getenv("LIFTLOG_REMOTE"), "liftlog server URL for -mcp-stdio")
	apiKey := flag.String("api-key", os.Getenv("LIFTLOG_API_KEY"), "API key for -mcp-stdio")
	flag.Parse()

	if *mcpStdio {
		if err := serveStdio(*remote, *apiKey); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	log.Info("liftlog starting", "version", Version)

	if err := run(cfg, log); err != nil {
		log.Error("liftlog failed", "error", err)
		os.Exit(1)
	}
	log.Info("liftlog stopped")
}

// serveStdio runs the MCP tools locally over stdio, backed by the REST API
// of a remote daemon. Logs go to stderr; stdout carries the protocol.
func serveStdio(remote, apiKey string) error {
	if remote == "" {
		return fmt.Errorf("-remote is required with -mcp-stdio")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := mcp.New(mcp.NewHTTPClient(remote, apiKey), Version, log)
	if err := mcpserver.ServeStdio(s); err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.State.Dir)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("state database opened", "path", db.Path())

	client := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.APIKey, cfg.Platform.PageSize, cfg.Platform.Timeout, log)

	res := resolver.New(client, db, cfg.Catalog.MaxAge, log)
	cache := history.New(client, db, cfg.History.Window, cfg.History.PerExercise, log)

	// Both load from local state; the catalog refreshes in the background
	// when stale and never blocks startup.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return res.Start(ctx) })
	g.Go(func() error { return cache.Load(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	defer res.Wait()

	var bg sync.WaitGroup
	defer bg.Wait()
	bg.Add(1)
	go func() {
		defer bg.Done()
		if err := cache.Sync(ctx); err != nil && ctx.Err() == nil {
			log.Warn("startup history sync failed", "error", err)
		}
	}()

	llm, err := newCompleter(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	cls := classifier.New(llm, res, cfg.LLM.LowConfidence, log)

	syncEngine := syncer.New(client, db, syncer.Options{
		Debounce:         cfg.Sync.Debounce,
		SnapshotInterval: cfg.Sync.SnapshotInterval,
		ProbeInterval:    cfg.Sync.ProbeInterval,
		MaxAttempts:      cfg.Sync.MaxAttempts,
	}, log)
	defer syncEngine.Close()

	follower := history.NewFollower(cache, historyFollowDelay, log)
	defer follower.Close()

	events := server.NewEvents(log)
	summarizer := vitals.NewSummarizer(log)
	mgr := session.NewManager(session.Observers{syncEngine, follower, events, summarizer}, log)

	doc, ok, err := syncEngine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering session: %w", err)
	}
	if ok {
		if err := mgr.Restore(doc); err != nil {
			return fmt.Errorf("restoring session: %w", err)
		}
	}

	pipe := engine.New(cls, mgr, res, cache, summarizer, cfg.LLM.QueueSize, log)
	pipe.Start()
	defer pipe.Close()

	importer := alpha.NewProvider(res, cache, cfg.History.Location(), log)

	mcpSrv := mcp.New(&mcp.Local{
		Sessions: mgr,
		Pipeline: pipe,
		Sync:     syncEngine,
		Catalog:  res,
		History:  cache,
	}, Version, log)

	srv := server.New(server.Deps{
		Sessions: mgr,
		Pipeline: pipe,
		Sync:     syncEngine,
		Catalog:  res,
		History:  cache,
		Importer: importer,
		Vitals:   summarizer,
		MCP:      mcp.NewHTTPHandler(mcpSrv),
	}, events, cfg.Auth.APIKey, log)

	listener, closeListener, err := listen(cfg, log)
	if err != nil {
		return err
	}
	defer closeListener()

	httpSrv := &http.Server{Handler: srv}
	errc := make(chan error, 2)
	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("serving http: %w", err)
		}
	}()
	go func() {
		if err := syncEngine.Run(ctx); err != nil && ctx.Err() == nil {
			errc <- fmt.Errorf("sync engine: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		stop()
		log.Error("shutting down", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	return nil
}

func newCompleter(ctx context.Context, cfg config.LLMConfig) (classifier.Completer, error) {
	switch cfg.Provider {
	case "gemini":
		return classifier.NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.Timeout)
	default:
		return classifier.NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	}
}

// listen opens a tailnet listener when Tailscale is enabled and a plain TCP
// listener otherwise.
func listen(cfg *config.Config, log *slog.Logger) (net.Listener, func(), error) {
	if !cfg.Tailscale.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
		return ln, func() {}, nil
	}

	ts := &tsnet.Server{
		Hostname: cfg.Tailscale.Hostname,
		Dir:      cfg.Tailscale.StateDir,
	}
	if err := ts.Start(); err != nil {
		return nil, nil, fmt.Errorf("tsnet start: %w", err)
	}
	ln, err := ts.Listen("tcp", ":80")
	if err != nil {
		ts.Close()
		return nil, nil, fmt.Errorf("tsnet listen: %w", err)
	}
	log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	return ln, func() { ts.Close() }, nil
}
