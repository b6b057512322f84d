package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/api"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/app"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/config"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadDotenv = func() error {
		return godotenv.Load()
	}
	loadConfig = func() (config.Config, error) {
		cfg := config.Load()
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
		return cfg.ResolveSecrets()
	}
	buildComponents    = app.Build
	dialTemporal       = client.Dial
	newWorkflowService = workflows.NewService
	newServer          = func(c *app.Components, explainer api.Explainer, log *slog.Logger) server {
		return api.NewServer(c.Store, c.Broker, explainer, c.Browser, log)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// a missing .env is normal outside local development
	_ = loadDotenv()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.LogLevel, os.Stderr)

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	components, err := buildComponents(ctx, cfg, "explainer", logger)
	if err != nil {
		return err
	}
	defer components.Close()

	var explainer api.Explainer = components.Pipeline
	if cfg.ExecutionMode == config.ModeTemporal {
		temporalClient, err := dialTemporal(client.Options{
			HostPort: cfg.TemporalAddress,
			Logger:   tlog.NewStructuredLogger(logger),
		})
		if err != nil {
			return err
		}
		if temporalClient != nil {
			defer temporalClient.Close()
		}
		explainer = newWorkflowService(temporalClient, cfg.TemporalTaskQueue)
	}

	server := newServer(components, explainer, logger)

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("explainer listening", "addr", addr, "mode", cfg.ExecutionMode)
	if err := server.Start(ctx, addr); err != nil {
		return err
	}

	return nil
}
