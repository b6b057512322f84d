package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/app"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/config"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/workflows"
)

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
	buildComponents = app.Build
	dialTemporal    = client.Dial
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = loadDotenv()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.LogLevel, os.Stderr)

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

	components, err := buildComponents(context.Background(), cfg, "worker", logger)
	if err != nil {
		return err
	}
	defer components.Close()

	activities := workflows.NewActivities(components.Pipeline, logger)

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ExplainWorkflow)
	w.RegisterActivityWithOptions(activities.Explain, activity.RegisterOptions{Name: workflows.ExplainActivityName})

	logger.Info("explain worker started", "task_queue", cfg.TemporalTaskQueue)
	if err := w.Run(workerInterrupt()); err != nil {
		return err
	}

	return nil
}
