// Package main implements the queue consumer for the mailsift analysis
// pipeline. It claims queued job records, decrypts their payloads, runs
// the external analyzer, and records each job's outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailsift/mailsift/internal/codec"
	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/consumer"
	"github.com/mailsift/mailsift/internal/platform/analyzer"
	"github.com/mailsift/mailsift/internal/platform/logger"
	"github.com/mailsift/mailsift/internal/platform/queuedir"
)

// Exit codes: 0 when every processed job succeeded, 1 when at least one
// job failed, 2 on a fatal consumer-level error.
const (
	exitOK    = 0
	exitFatal = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("consumer", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml (default: search working directory)")
	jobID := fs.String("job", "", "process exactly this job id")
	all := fs.Bool("all", false, "drain the queue instead of processing a single job")
	dryRun := fs.Bool("dry-run", false, "prepare the next job without running the analyzer")

	if err := fs.Parse(args); err != nil {
		return exitFatal
	}

	if *all && *jobID != "" {
		fmt.Fprintln(os.Stderr, "-all and -job are mutually exclusive")
		return exitFatal
	}

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitFatal
	}

	log, err := logger.Setup(cfg.Consumer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logger: %v\n", err)
		return exitFatal
	}

	app, err := buildApp(cfg, log, *dryRun)
	if err != nil {
		log.Error("failed to initialize consumer", "error", err)
		return exitFatal
	}

	// A drain in flight stops between jobs on SIGINT/SIGTERM; the job
	// being processed at that moment stays in running_jobs for manual
	// recovery.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var summary consumer.Summary
	switch {
	case *all:
		summary, err = app.ProcessAll(ctx)
	case *jobID != "":
		summary, err = app.ProcessJob(ctx, *jobID)
	default:
		summary, err = app.ProcessNext(ctx)
	}

	if err != nil {
		log.Error("consumer run failed", "error", err)
		return exitFatal
	}

	log.Info("consumer run finished",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped)

	return summary.ExitCode()
}

// buildApp wires the store, codec, and invoker into a consumer.
func buildApp(cfg *config.Config, log *slog.Logger, dryRun bool) (*consumer.Consumer, error) {
	jobStore, err := queuedir.New(cfg.Queue.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	contentCodec := codec.New(cfg.Codec.Secret)

	invoker, err := analyzer.New(analyzer.Config{
		Command:        cfg.AnalyzerArgv(),
		ScratchRoot:    jobStore.ScratchRoot(),
		DefaultTimeout: time.Duration(cfg.Queue.DefaultTimeoutSeconds) * time.Second,
	}, contentCodec, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}

	return consumer.New(jobStore, invoker, log, dryRun), nil
}
