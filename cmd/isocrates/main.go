package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/config"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/events"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/jobs"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/orchestrator"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/storeapi"
)

var CLI struct {
	Verbose bool `short:"v" help:"Enable verbose logging"`

	Pipeline struct {
		Repo  string `short:"r" required:"" help:"Repository URL to document"`
		Crate string `help:"Top-level wiki folder (defaults to the repository name)"`
	} `cmd:"" help:"Run the documentation pipeline for one repository"`

	Serve struct {
		Addr string `help:"Listen address (overrides LISTEN_ADDR)"`
	} `cmd:"" help:"Serve the document API, metrics, and the GitHub webhook"`

	Worker struct{} `cmd:"" help:"Poll the job queue and run pipelines as subprocesses"`

	Enqueue struct {
		Repo   string `short:"r" required:"" help:"Repository URL to queue"`
		Commit string `help:"Commit SHA, used for job deduplication"`
	} `cmd:"" help:"Queue a documentation job without going through the webhook"`

	Purge struct {
		Days int `default:"30" help:"Delete trashed documents older than this many days"`
	} `cmd:"" help:"Permanently delete expired soft-deleted documents"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load()
	if err != nil {
		fatal("load configuration", err)
	}

	switch kctx.Command() {
	case "pipeline":
		runPipeline(cfg)
	case "serve":
		runServe(cfg)
	case "worker":
		runWorker(cfg)
	case "enqueue":
		runEnqueue(cfg)
	case "purge":
		runPurge(cfg)
	default:
		kctx.FatalIfErrorf(fmt.Errorf("unknown command %q", kctx.Command()))
	}
}

func runPipeline(cfg *config.Config) {
	if err := cfg.ValidateTiers(); err != nil {
		fatal("validate configuration", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		fatal("open store", err)
	}
	defer func() { _ = st.Close() }()

	pub, err := events.Connect(cfg.NATSURL)
	if err != nil {
		fatal("connect event publisher", err)
	}
	defer pub.Close()

	orch, err := orchestrator.New(cfg, st, pub)
	if err != nil {
		fatal("build orchestrator", err)
	}

	ctx, stop := signalContext()
	defer stop()

	stats, err := orch.Run(ctx, CLI.Pipeline.Repo, CLI.Pipeline.Crate)
	if err != nil {
		fatal("pipeline run", err)
	}
	if stats.Skipped {
		fmt.Printf("documentation for %s is current, nothing to do\n", stats.RepoURL)
		return
	}
	fmt.Printf("documented %s at %s: %d pages written, %d failed, %d areas, %s\n",
		stats.RepoURL, stats.CommitSHA, stats.Generated, stats.Failed, stats.Areas, stats.Elapsed.Round(time.Second))
	if stats.Cleanup != nil && stats.Cleanup.Deleted > 0 {
		fmt.Printf("cleaned up %d orphaned pages\n", stats.Cleanup.Deleted)
	}
}

func runServe(cfg *config.Config) {
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		fatal("open store", err)
	}
	defer func() { _ = st.Close() }()

	queue, err := jobs.OpenQueue(cfg.DatabaseURL)
	if err != nil {
		fatal("open job queue", err)
	}
	defer func() { _ = queue.Close() }()

	addr := cfg.ListenAddr
	if CLI.Serve.Addr != "" {
		addr = CLI.Serve.Addr
	}
	server := storeapi.New(addr, st, queue, cfg.WebhookSecret)

	ctx, stop := signalContext()
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		fatal("server", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown incomplete", logfields.Error(err))
	}
}

func runWorker(cfg *config.Config) {
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		fatal("open store", err)
	}
	defer func() { _ = st.Close() }()

	queue, err := jobs.OpenQueue(cfg.DatabaseURL)
	if err != nil {
		fatal("open job queue", err)
	}
	defer func() { _ = queue.Close() }()

	pub, err := events.Connect(cfg.NATSURL)
	if err != nil {
		fatal("connect event publisher", err)
	}
	defer pub.Close()

	exe, err := os.Executable()
	if err != nil {
		fatal("resolve executable", err)
	}

	worker := &jobs.Worker{
		Queue:        queue,
		Store:        st,
		Events:       pub,
		PollInterval: cfg.PollInterval,
		JobTimeout:   cfg.JobTimeout,
		Command:      []string{exe, "pipeline"},
	}

	ctx, stop := signalContext()
	defer stop()

	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		fatal("worker", err)
	}
}

func runEnqueue(cfg *config.Config) {
	queue, err := jobs.OpenQueue(cfg.DatabaseURL)
	if err != nil {
		fatal("open job queue", err)
	}
	defer func() { _ = queue.Close() }()

	job, err := queue.Enqueue(context.Background(), CLI.Enqueue.Repo, CLI.Enqueue.Commit)
	if err != nil {
		fatal("enqueue job", err)
	}
	fmt.Printf("job %s %s for %s\n", job.ID, job.Status, job.RepoURL)
}

func runPurge(cfg *config.Config) {
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		fatal("open store", err)
	}
	defer func() { _ = st.Close() }()

	purged, err := st.PurgeExpired(context.Background(), CLI.Purge.Days)
	if err != nil {
		fatal("purge trash", err)
	}
	fmt.Printf("purged %d documents deleted more than %d days ago\n", purged, CLI.Purge.Days)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(stage string, err error) {
	slog.Error(stage+" failed", logfields.Error(err))
	os.Exit(1)
}
