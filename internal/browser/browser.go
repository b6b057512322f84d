package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// launchTimeout bounds a launch including a first-use install download.
const launchTimeout = 5 * time.Minute

var (
	ErrBrowserNotFound = errors.New("browser binary not found")
	ErrNoText          = errors.New("page has no document text")
)

// Page is one isolated browser tab. Callers must Close it.
type Page interface {
	Navigate(ctx context.Context, url string) error
	InnerText(ctx context.Context) (string, error)
	Close() error
}

type instance interface {
	Connected() bool
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

type Options struct {
	Proxy string
	Type  string
	Bin   string
}

// Manager owns the process-wide headless browser. It is started on first
// use, reused while connected and relaunched after a disconnect.
type Manager struct {
	log   *slog.Logger
	group singleflight.Group

	mu      sync.Mutex
	opts    Options
	current instance

	launch  func(ctx context.Context, opts Options) (instance, error)
	install func(ctx context.Context) (string, error)
}

func NewManager(opts Options, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log,
		opts:    opts,
		launch:  launchRod,
		install: installRod,
	}
}

// NewPage opens a fresh page on the shared browser.
func (m *Manager) NewPage(ctx context.Context) (Page, error) {
	inst, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return inst.NewPage(ctx)
}

// Ready reports whether a connected browser is currently held.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	return cur != nil && cur.Connected()
}

// Install downloads a browser build and uses it for future launches.
func (m *Manager) Install(ctx context.Context) error {
	bin, err := m.install(ctx)
	if err != nil {
		return fmt.Errorf("install browser: %w", err)
	}
	m.mu.Lock()
	m.opts.Bin = bin
	m.mu.Unlock()
	m.log.Info("browser installed", "bin", bin)
	return nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	cur := m.current
	m.current = nil
	m.mu.Unlock()
	if cur == nil {
		return nil
	}
	return cur.Close()
}

// acquire returns the connected browser, launching one if needed. The launch
// is shared by concurrent callers and runs detached from any one of them, so
// a caller that gives up only stops waiting.
func (m *Manager) acquire(ctx context.Context) (instance, error) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur != nil && cur.Connected() {
		return cur, nil
	}

	launched := m.group.DoChan("launch", func() (any, error) {
		m.mu.Lock()
		stale := m.current
		m.mu.Unlock()
		if stale != nil {
			if stale.Connected() {
				return stale, nil
			}
			m.log.Warn("browser disconnected, relaunching")
			_ = stale.Close()
		}

		launchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), launchTimeout)
		defer cancel()
		inst, err := m.start(launchCtx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.current = inst
		m.mu.Unlock()
		return inst, nil
	})
	select {
	case res := <-launched:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(instance), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) start(ctx context.Context) (instance, error) {
	inst, err := m.launch(ctx, m.options())
	if !errors.Is(err, ErrBrowserNotFound) {
		return inst, err
	}
	m.log.Warn("browser binary missing, installing once")
	if err := m.Install(ctx); err != nil {
		return nil, err
	}
	return m.launch(ctx, m.options())
}

func (m *Manager) options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}
