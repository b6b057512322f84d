package resolvers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const headTimeout = 10 * time.Second

var urlPattern = regexp.MustCompile(`\b(?:https?|ftp)://[^\s/?#]+[^\s]*|\b(?:www\.)?[a-zA-Z0-9-]+\.[a-zA-Z]{2,}(?:\.[a-zA-Z]{2,})*(?:/[^\s]*)?\b`)

// FirstURL returns the first link-like token in text, with https:// added
// to bare host forms, or "" when there is none.
func FirstURL(text string) string {
	match := urlPattern.FindString(text)
	if match == "" {
		return ""
	}
	if !strings.Contains(match, "://") {
		return "https://" + match
	}
	return match
}

// URLClassifier decides whether a link points at a PDF.
type URLClassifier struct {
	client *http.Client
	log    *slog.Logger
}

func NewURLClassifier(log *slog.Logger) *URLClassifier {
	return &URLClassifier{
		client: &http.Client{Timeout: headTimeout},
		log:    orDefault(log),
	}
}

// IsPDF asks the server with a HEAD request and falls back to the path
// suffix when the server says nothing useful or cannot be reached.
func (c *URLClassifier) IsPDF(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err == nil {
		resp, err := c.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/pdf") {
				return true
			}
		} else {
			c.log.Debug("HEAD failed, classifying by suffix", "url", rawURL, "error", err)
		}
	}
	return hasPDFSuffix(rawURL)
}

func hasPDFSuffix(rawURL string) bool {
	path := rawURL
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		path = parsed.Path
	}
	return strings.HasSuffix(strings.ToLower(path), ".pdf")
}
