// Command detector runs the Pulse anomaly detector: it compares recent
// minute KPI aggregates against seasonal baselines and records alerts.
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

	"github.com/shoplytics/pulse/config"
	"github.com/shoplytics/pulse/internal/detect"
	"github.com/shoplytics/pulse/internal/infra/persistence/postgres"
	"github.com/shoplytics/pulse/internal/observability"
	"github.com/shoplytics/pulse/lib/telemetry"
)

const (
	detectorLoggerPrefix     = "detector "
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, detectorLoggerPrefix, log.LstdFlags|log.Lmicroseconds)

	cfg, loadedFromFile, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	if err := cfg.ValidateDetector(); err != nil {
		logger.Fatalf("validate config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, kpi=%s", cfg.Environment, cfg.Detector.KPI)

	observability.SetLogger(observability.NewStdLogger(logger))

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Store.DSN, cfg.Store.MaxConns)
	if err != nil {
		logger.Fatalf("connect store: %v", err)
	}

	params := detect.Params{
		KPI:                  cfg.Detector.KPI,
		BaselineDays:         cfg.Detector.BaselineDays,
		ThresholdPct:         cfg.Detector.ThresholdPct,
		MinBaseline:          cfg.Detector.MinBaseline,
		LookbackMinutes:      cfg.Detector.LookbackMinutes,
		Interval:             cfg.Detector.Interval(),
		CurrentWindowMinutes: cfg.Detector.CurrentWindowMinutes,
		DurationMinutes:      cfg.Detector.DurationMinutes,
	}
	if err := params.Validate(); err != nil {
		logger.Fatalf("validate detector params: %v", err)
	}

	detector := detect.New(postgres.NewAlertStore(pool), params, observability.Log(), detect.NewMetrics())
	logger.Printf("evaluating %s every %s against a %d-day baseline",
		params.KPI, params.Interval, params.BaselineDays)

	runErr := detector.Run(ctx)

	logger.Print("shutting down")
	pool.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	if err := telemetryShutdown(shutdownCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}
	shutdownCancel()

	if runErr != nil {
		logger.Printf("detector: %v", runErr)
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
