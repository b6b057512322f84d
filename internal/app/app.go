// Package app assembles the explain pipeline and its infrastructure from a
// loaded Config. Both binaries build through it so the inline server and the
// Temporal worker run the same pipeline.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/answer"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/browser"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/config"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/events"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/llm"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/pipeline"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/prompt"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/resolvers"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/store"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/store/memory"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/store/postgres"
)

var (
	openPostgres = func(conn string) (store.Store, io.Closer, error) {
		st, err := postgres.New(conn)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	}
	newLLMClient = func(cfg llm.Config, log *slog.Logger) (llm.ChatClient, error) {
		return llm.NewClient(cfg, llm.WithLogger(log))
	}
	loadTemplate = prompt.Load
)

type Components struct {
	Store    store.Store
	Broker   *events.Broker
	Browser  *browser.Manager
	Pipeline *pipeline.Pipeline

	closers []io.Closer
}

// Close releases the browser, the model clients' connection pools and the
// store connection.
func (c *Components) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// idleCloser is implemented by llm.Client, whose Close cannot fail.
type idleCloser interface{ Close() }

type releaseFunc func()

func (f releaseFunc) Close() error {
	f()
	return nil
}

func (c *Components) track(client llm.ChatClient) {
	if cl, ok := client.(idleCloser); ok {
		c.closers = append(c.closers, releaseFunc(cl.Close))
	}
}

func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// OpenStore returns the postgres ledger when a URL is set, otherwise the
// in-memory store.
func OpenStore(conn string) (store.Store, io.Closer, error) {
	if strings.TrimSpace(conn) == "" {
		return memory.New(), nil, nil
	}
	return openPostgres(conn)
}

// Build wires every component named by cfg. source tags recorded events
// with the process that produced them.
func Build(ctx context.Context, cfg config.Config, source string, log *slog.Logger) (*Components, error) {
	st, closer, err := OpenStore(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c := &Components{Store: st, Broker: events.NewBroker()}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}

	text, err := optionalClient(cfg.Text, log.With("model_role", "text"))
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("text model: %w", err)
	}
	c.track(text)
	vision, err := optionalClient(cfg.Vision, log.With("model_role", "vision"))
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("vision model: %w", err)
	}
	c.track(vision)
	check, err := optionalClient(cfg.Check, log.With("model_role", "check"))
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("check model: %w", err)
	}
	c.track(check)

	c.Browser = browser.NewManager(browser.Options{
		Proxy: cfg.BrowserProxy,
		Type:  cfg.BrowserType,
		Bin:   cfg.BrowserBin,
	}, log.With("component", "browser"))
	c.closers = append(c.closers, c.Browser)
	if cfg.InstallBrowser {
		if err := c.Browser.Install(ctx); err != nil {
			log.Warn("browser install failed, web pages will retry on first use", "error", err)
		}
	}

	c.Pipeline = pipeline.New(pipeline.Deps{
		Images:     resolvers.NewImageResolver(vision, log.With("component", "image")),
		Web:        resolvers.NewWebResolver(c.Browser, log.With("component", "web_page")),
		PDF:        resolvers.NewPDFResolver(resolvers.PDFLimits{MaxSize: cfg.PDFMaxSize, MaxPages: cfg.PDFMaxPages, MaxChars: cfg.PDFMaxChars}, log.With("component", "pdf")),
		Classifier: resolvers.NewURLClassifier(log),
		Text:       text,
		Auditor:    answer.NewAuditor(check, log.With("component", "audit")),
		Recorder:   events.NewRecorder(st, c.Broker, source, log),
		Template:   loadTemplate(),
		Log:        log,
	})
	return c, nil
}

// optionalClient returns a nil client for a model without token or name so
// the pipeline reports the missing key to the user instead of failing here.
func optionalClient(model config.Model, log *slog.Logger) (llm.ChatClient, error) {
	cfg := model.LLM()
	if !cfg.Configured() {
		return nil, nil
	}
	return newLLMClient(cfg, log)
}
