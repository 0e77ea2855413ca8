// Command processor runs the Pulse stream processor: it consumes order and
// session events from the broker, persists them idempotently, and flushes
// minute and hour KPI aggregates.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/shoplytics/pulse/config"
	"github.com/shoplytics/pulse/internal/broker"
	"github.com/shoplytics/pulse/internal/ingest"
	"github.com/shoplytics/pulse/internal/infra/persistence/postgres"
	"github.com/shoplytics/pulse/internal/observability"
	"github.com/shoplytics/pulse/lib/telemetry"
)

const (
	processorLoggerPrefix    = "processor "
	flusherShutdownTimeout   = 15 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, processorLoggerPrefix, log.LstdFlags|log.Lmicroseconds)

	cfg, loadedFromFile, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	if err := cfg.ValidateProcessor(); err != nil {
		logger.Fatalf("validate config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, group=%s", cfg.Environment, cfg.Broker.GroupID)

	observability.SetLogger(observability.NewStdLogger(logger))

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Store.DSN, cfg.Store.MaxConns)
	if err != nil {
		logger.Fatalf("connect store: %v", err)
	}

	store := postgres.NewEventStore(pool)
	aggregates := ingest.NewAggregates()
	dedupe := ingest.NewDedupeCache(cfg.Processor.DedupeTTL())
	metrics := ingest.NewMetrics()

	reader, err := broker.NewReader(broker.Config{
		Brokers:     cfg.Broker.Brokers,
		Topics:      []string{cfg.Broker.OrdersTopic, cfg.Broker.SessionsTopic},
		GroupID:     cfg.Broker.GroupID,
		OffsetReset: cfg.Broker.OffsetReset,
	})
	if err != nil {
		logger.Fatalf("initialise broker reader: %v", err)
	}
	logger.Printf("consuming topics %s, %s from %v", cfg.Broker.OrdersTopic, cfg.Broker.SessionsTopic, cfg.Broker.Brokers)

	flusher := ingest.NewFlusher(store, aggregates, cfg.Processor.FlushInterval(), observability.Log(), metrics)

	var lifecycle conc.WaitGroup
	flusherDone := make(chan error, 1)
	lifecycle.Go(func() {
		err := flusher.Run(ctx)
		flusherDone <- err
		if err != nil {
			// A dead flusher means aggregates accumulate without bound;
			// take the ingest loop down with it.
			cancel()
		}
	})

	processor := ingest.NewProcessor(reader, store, dedupe, aggregates, ingest.ProcessorConfig{
		OrdersTopic:   cfg.Broker.OrdersTopic,
		SessionsTopic: cfg.Broker.SessionsTopic,
		LogEveryN:     cfg.Processor.LogEveryN,
	}, observability.Log(), metrics)

	runErr := processor.Run(ctx)

	logger.Print("shutting down")
	cancel()
	if cerr := reader.Close(); cerr != nil {
		logger.Printf("close broker reader: %v", cerr)
	}

	waitLifecycle(logger, &lifecycle)
	var flushErr error
	select {
	case flushErr = <-flusherDone:
	default:
	}

	pool.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	if err := telemetryShutdown(shutdownCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}
	shutdownCancel()

	if runErr != nil {
		logger.Printf("processor: %v", runErr)
	}
	if flushErr != nil {
		logger.Printf("flusher: %v", flushErr)
	}
	if runErr != nil || flushErr != nil {
		os.Exit(1)
	}
	logger.Print("shutdown completed")
}

func parseFlags() string {
	cfgPath := flag.String("config", config.DefaultPath,
		fmt.Sprintf("Path to configuration file (default: %s)", config.DefaultPath))
	flag.Parse()
	return *cfgPath
}

func waitLifecycle(logger *log.Logger, lifecycle *conc.WaitGroup) {
	done := make(chan struct{})
	go func() {
		lifecycle.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(flusherShutdownTimeout):
		logger.Print("timeout waiting for flusher shutdown")
	}
}
