package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redlinehq/redline/internal/api"
	"github.com/redlinehq/redline/internal/blob"
	"github.com/redlinehq/redline/internal/config"
	"github.com/redlinehq/redline/internal/jobstore"
	"github.com/redlinehq/redline/internal/notify"
	"github.com/redlinehq/redline/internal/pipeline"
	"github.com/redlinehq/redline/internal/reason"
	"github.com/redlinehq/redline/internal/retrieve"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	var cfg config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			log.Error("load config file", "path", *configPath, "error", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Load()
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage and state.
	blobs, err := blob.NewFSStore(cfg.BlobDir)
	if err != nil {
		log.Error("init blob store", "error", err)
		os.Exit(1)
	}
	jobs := jobstore.NewMemoryStore(cfg.JobTTL)
	notifier := notify.New()

	// External service clients.
	reasoner := reason.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.ReasoningRPS)
	retrievalClient := retrieve.NewClient(cfg.RetrievalURL, cfg.RetrievalAPIKey)
	retriever := retrieve.NewRetriever(retrievalClient, cfg.MaxQueryConcurrency, log)

	// Pipeline.
	scheduler := pipeline.NewScheduler(reasoner, retriever, blobs, cfg.MaxChunkConcurrency, log)
	coordinator := pipeline.NewCoordinator(scheduler, blobs, jobs, notifier, log)
	orch := pipeline.NewOrchestrator(cfg, coordinator, jobs, log)
	orch.Start(ctx)

	// HTTP server.
	srv := api.NewServer(orch, blobs, notifier, log, cfg)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event streams stay open for the life of a job
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		reasoner.Close()
		retrievalClient.Close()
	}()

	log.Info("starting redline", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
