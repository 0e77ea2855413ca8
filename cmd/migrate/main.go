// Command migrate applies or rolls back the Pulse database schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shoplytics/pulse/config"
	"github.com/shoplytics/pulse/internal/infra/persistence/migrations"
)

func main() {
	cfgPath := flag.String("config", config.DefaultPath,
		fmt.Sprintf("Path to configuration file (default: %s)", config.DefaultPath))
	down := flag.Bool("down", false, "Roll back the most recent migration instead of applying")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, "migrate ", log.LstdFlags|log.Lmicroseconds)

	cfg, _, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.Store.DSN == "" {
		logger.Fatal("store.dsn required")
	}

	if *down {
		err = migrations.Rollback(ctx, cfg.Store.DSN, logger)
	} else {
		err = migrations.Apply(ctx, cfg.Store.DSN, logger)
	}
	if err != nil {
		logger.Fatalf("migrate: %v", err)
	}
}
