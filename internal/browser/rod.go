package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// healthCheckTimeout bounds the liveness check run before every reuse.
const healthCheckTimeout = 2 * time.Second

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// launchRod starts a headless Chromium. The process is not bound to ctx so
// it outlives the request that happened to start it.
func launchRod(_ context.Context, opts Options) (instance, error) {
	bin := opts.Bin
	if bin == "" {
		path, ok := launcher.LookPath()
		if !ok {
			return nil, ErrBrowserNotFound
		}
		bin = path
	}

	l := launcher.New().Bin(bin).Headless(true)
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", opts.Type, err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect %s: %w", opts.Type, err)
	}
	return &rodBrowser{browser: b, launcher: l}, nil
}

func installRod(_ context.Context) (string, error) {
	return launcher.NewBrowser().Get()
}

// Connected reports false for a browser that does not answer within
// healthCheckTimeout, so a hung process is relaunched.
func (r *rodBrowser) Connected() bool {
	b := r.browser.Timeout(healthCheckTimeout)
	defer b.CancelTimeout()
	_, err := proto.BrowserGetVersion{}.Call(b)
	return err == nil
}

func (r *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	page, err := r.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	// detach so Close still works after the request context is done
	return &rodPage{page: page.Context(context.Background())}, nil
}

func (r *rodBrowser) Close() error {
	err := r.browser.Close()
	r.launcher.Cleanup()
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) InnerText(ctx context.Context) (string, error) {
	has, el, err := p.page.Context(ctx).Has("html")
	if err != nil {
		return "", err
	}
	if !has {
		return "", ErrNoText
	}
	return el.Text()
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
