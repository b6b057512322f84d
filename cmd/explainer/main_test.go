package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"go.temporal.io/sdk/client"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/api"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/app"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/config"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/events"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/pipeline"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/store/memory"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/workflows"
)

type stubServer struct {
	err  error
	addr *string
}

func (s stubServer) Start(ctx context.Context, addr string) error {
	if s.addr != nil {
		*s.addr = addr
	}
	return s.err
}

func captureExplainerDeps() func() {
	origLoadDotenv := loadDotenv
	origLoadConfig := loadConfig
	origBuildComponents := buildComponents
	origDialTemporal := dialTemporal
	origNewWorkflowService := newWorkflowService
	origNewServer := newServer
	origNotifyContext := notifyContext

	return func() {
		loadDotenv = origLoadDotenv
		loadConfig = origLoadConfig
		buildComponents = origBuildComponents
		dialTemporal = origDialTemporal
		newWorkflowService = origNewWorkflowService
		newServer = origNewServer
		notifyContext = origNotifyContext
	}
}

func stubComponents(_ context.Context, _ config.Config, _ string, _ *slog.Logger) (*app.Components, error) {
	return &app.Components{
		Store:    memory.New(),
		Broker:   events.NewBroker(),
		Pipeline: pipeline.New(pipeline.Deps{}),
	}, nil
}

func stubNotify(ctx context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
	return context.WithCancel(ctx)
}

func TestRunInline(t *testing.T) {
	restore := captureExplainerDeps()
	t.Cleanup(restore)

	loadDotenv = func() error {
		return errors.New("open .env: no such file")
	}
	loadConfig = func() (config.Config, error) {
		return config.Config{Port: "0", ExecutionMode: config.ModeInline}, nil
	}
	buildComponents = stubComponents
	dialTemporal = func(_ client.Options) (client.Client, error) {
		t.Fatal("inline mode must not dial temporal")
		return nil, nil
	}
	var gotExplainer api.Explainer
	var addr string
	newServer = func(_ *app.Components, explainer api.Explainer, _ *slog.Logger) server {
		gotExplainer = explainer
		return stubServer{addr: &addr}
	}
	notifyContext = stubNotify

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, ok := gotExplainer.(*pipeline.Pipeline); !ok {
		t.Fatalf("expected inline pipeline, got %T", gotExplainer)
	}
	if addr != ":0" {
		t.Fatalf("addr = %q", addr)
	}
}

func TestRunTemporalMode(t *testing.T) {
	restore := captureExplainerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{
			Port:              "0",
			ExecutionMode:     config.ModeTemporal,
			TemporalAddress:   "localhost:7233",
			TemporalTaskQueue: "zssm-test",
		}, nil
	}
	buildComponents = stubComponents
	var dialedHost string
	dialTemporal = func(opts client.Options) (client.Client, error) {
		dialedHost = opts.HostPort
		return nil, nil
	}
	var queue string
	newWorkflowService = func(_ client.Client, taskQueue string) *workflows.Service {
		queue = taskQueue
		return &workflows.Service{}
	}
	var gotExplainer api.Explainer
	newServer = func(_ *app.Components, explainer api.Explainer, _ *slog.Logger) server {
		gotExplainer = explainer
		return stubServer{}
	}
	notifyContext = stubNotify

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if dialedHost != "localhost:7233" || queue != "zssm-test" {
		t.Fatalf("dialed %q on queue %q", dialedHost, queue)
	}
	if _, ok := gotExplainer.(*workflows.Service); !ok {
		t.Fatalf("expected workflow service, got %T", gotExplainer)
	}
}

func TestRunConfigLoadFailure(t *testing.T) {
	restore := captureExplainerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("config load failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunBuildFailure(t *testing.T) {
	restore := captureExplainerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{PostgresURL: "postgres://example"}, nil
	}
	buildComponents = func(_ context.Context, _ config.Config, _ string, _ *slog.Logger) (*app.Components, error) {
		return nil, errors.New("store init failed")
	}
	notifyContext = stubNotify

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunTemporalClientFailure(t *testing.T) {
	restore := captureExplainerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{ExecutionMode: config.ModeTemporal, TemporalAddress: "localhost:7233"}, nil
	}
	buildComponents = stubComponents
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, errors.New("temporal dial failed")
	}
	notifyContext = stubNotify

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunServerFailure(t *testing.T) {
	restore := captureExplainerDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{Port: "0", ExecutionMode: config.ModeInline}, nil
	}
	buildComponents = stubComponents
	newServer = func(_ *app.Components, _ api.Explainer, _ *slog.Logger) server {
		return stubServer{err: errors.New("address in use")}
	}
	notifyContext = stubNotify

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}
