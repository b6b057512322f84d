package resolvers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/browser"
)

const navigationTimeout = 60 * time.Second

type PageOpener interface {
	NewPage(ctx context.Context) (browser.Page, error)
}

// WebResolver reads the rendered text of a web page.
type WebResolver struct {
	pages PageOpener
	log   *slog.Logger
}

func NewWebResolver(pages PageOpener, log *slog.Logger) *WebResolver {
	return &WebResolver{pages: pages, log: orDefault(log)}
}

func (r *WebResolver) Resolve(ctx context.Context, url string) (text string, err error) {
	defer recoverSoft(&err, r.log, "web_page", url)

	page, err := r.pages.NewPage(ctx)
	if err != nil {
		r.log.Error("open page failed", "url", url, "error", err)
		return "", fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			r.log.Warn("close page failed", "url", url, "error", cerr)
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, navigationTimeout)
	defer cancel()
	if err := page.Navigate(navCtx, url); err != nil {
		r.log.Error("navigate failed", "url", url, "error", err)
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}

	text, err = page.InnerText(ctx)
	if err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoContent
	}
	return text, nil
}
