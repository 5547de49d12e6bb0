package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/platinummonkey/billingportal/pkg/config"
	"github.com/platinummonkey/billingportal/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLoggerWithFormat(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"version":       version,
		"identity_mode": cfg.Identity.Mode,
		"match_policy":  cfg.Portal.MatchPolicy,
		"error_status":  cfg.Portal.ErrorStatus,
	}).Info("Starting billing portal")

	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, cfg.OTelConfig(), logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to build billing portal")
		os.Exit(1)
	}
	a.shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	if err := a.run(ctx); err != nil {
		logger.WithError(err).Error("Billing portal stopped with errors")
		os.Exit(1)
	}
}
