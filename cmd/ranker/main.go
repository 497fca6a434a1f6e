package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sentiment-ranker/comment-ranker/internal/config"
	"github.com/sentiment-ranker/comment-ranker/internal/extraction"
	"github.com/sentiment-ranker/comment-ranker/internal/notifications"
	"github.com/sentiment-ranker/comment-ranker/internal/pipeline"
	"github.com/sentiment-ranker/comment-ranker/internal/report"
	"github.com/sentiment-ranker/comment-ranker/internal/scheduler"
	"github.com/sentiment-ranker/comment-ranker/internal/sources"
	"github.com/sentiment-ranker/comment-ranker/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const consoleRows = 10

func main() {
	os.Exit(run())
}

// run wires everything and returns the process exit code, so deferred cleanup runs
// before the process exits.
func run() int {
	fs := config.NewFlagSet("ranker")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ranker [flags] <comments.xlsx|comments.csv>\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(fs)
	if err != nil {
		logrus.Errorf("Failed to load configuration: %v", err)
		return 1
	}
	setupLogging(cfg)

	if cfg.Input == "" {
		fs.Usage()
		logrus.Error("No input file given")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, storage.Options{
		Kind:           cfg.Sink,
		Dir:            outputDir(cfg),
		AzureAccount:   cfg.StorageAccount,
		AzureContainer: cfg.StorageContainer,
		SQLitePath:     cfg.SQLitePath,
	})
	if err != nil {
		logrus.Errorf("Failed to initialize storage: %v", err)
		return 1
	}
	defer closeStore(store)

	var notifier notifications.NotificationInterface
	if n := notifications.NewService(cfg); n.Enabled() {
		notifier = n
	}

	extractor := extraction.NewClient(extraction.Options{
		APIKey:           cfg.APIKey,
		BaseURL:          cfg.BaseURL,
		Model:            cfg.Model,
		Temperature:      cfg.Temperature,
		MaxRetries:       cfg.MaxRetries,
		Timeout:          cfg.RequestTimeout,
		StructuredOutput: cfg.StructuredOutput,
		Topic:            cfg.Topic,
		Aliases:          cfg.Aliases,
	})
	logrus.Infof("Using %s", extractor)

	service := pipeline.NewService(cfg, extractor, store, notifier)

	if cfg.Schedule == "" {
		return runOnce(ctx, service, cfg.Input)
	}
	return serve(ctx, cfg, service)
}

// closeStore releases sinks that hold a handle, such as the SQLite database.
func closeStore(store storage.StorageInterface) {
	c, ok := store.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logrus.Errorf("Failed to close storage: %v", err)
	}
}

func setupLogging(cfg *config.Config) {
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// outputDir is where the file sink writes: the configured directory, the directory of an
// explicit output path, or next to the input.
func outputDir(cfg *config.Config) string {
	if cfg.OutputDir != "" {
		return cfg.OutputDir
	}
	if cfg.Output != "" && filepath.Dir(cfg.Output) != "." {
		return filepath.Dir(cfg.Output)
	}
	return filepath.Dir(cfg.Input)
}

func runOnce(ctx context.Context, service *pipeline.Service, input string) int {
	rep, err := service.Run(ctx, input)

	var schemaErr *sources.SchemaError
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrNoResults):
		logrus.Warnf("No results for %s (%d conversations, %d skipped)", input, rep.Threads, rep.Skipped)
		return 0
	case errors.As(err, &schemaErr):
		logrus.Errorf("Input %s is not a comment export: %v", input, err)
		return 1
	default:
		logrus.Errorf("Analysis failed: %v", err)
		if rep != nil && len(rep.Ranking) > 0 {
			fmt.Println("\nPartial ranking (not saved):")
			_ = report.WriteSummary(os.Stdout, rep.Ranking, consoleRows)
		}
		return 1
	}

	fmt.Printf("\nTop %d products (%d facts from %d conversations, %d skipped)\n",
		min(consoleRows, len(rep.Ranking)), len(rep.Facts), rep.Threads, rep.Skipped)
	if err := report.WriteSummary(os.Stdout, rep.Ranking, consoleRows); err != nil {
		logrus.Errorf("Failed to print summary: %v", err)
	}
	for _, a := range rep.Artifacts {
		fmt.Printf("Saved %s\n", a)
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, service *pipeline.Service) int {
	sched := scheduler.NewService(cfg.Schedule, func(ctx context.Context) error {
		_, err := service.Run(ctx, cfg.Input)
		if errors.Is(err, pipeline.ErrNoResults) {
			return nil
		}
		return err
	})
	if err := sched.Start(); err != nil {
		logrus.Errorf("Failed to start scheduler: %v", err)
		return 1
	}
	defer sched.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      newRouter(service, sched),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
	logrus.Info("Server exited")
	return 0
}
