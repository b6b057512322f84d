package resolvers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

const (
	pdfDownloadTimeout = 60 * time.Second
	pdfChunkSize       = 64 << 10

	TruncationMarker = "\n...[content truncated]"
)

type PDFLimits struct {
	MaxSize  int64
	MaxPages int
	MaxChars int
}

func DefaultPDFLimits() PDFLimits {
	return PDFLimits{
		MaxSize:  10 << 20,
		MaxPages: 50,
		MaxChars: 300000,
	}
}

// document is a page-addressable PDF. Pages are numbered from 1.
type document interface {
	NumPage() int
	PageText(n int) (string, error)
}

var openDocument = func(path string) (document, func() error, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return pdfReader{r: r}, f.Close, nil
}

type pdfReader struct {
	r *pdf.Reader
}

func (p pdfReader) NumPage() int {
	return p.r.NumPage()
}

func (p pdfReader) PageText(n int) (string, error) {
	page := p.r.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

// PDFResolver downloads a PDF under a size cap and extracts its text.
type PDFResolver struct {
	limits PDFLimits
	http   *http.Client
	log    *slog.Logger
}

func NewPDFResolver(limits PDFLimits, log *slog.Logger) *PDFResolver {
	defaults := DefaultPDFLimits()
	if limits.MaxSize <= 0 {
		limits.MaxSize = defaults.MaxSize
	}
	if limits.MaxPages <= 0 {
		limits.MaxPages = defaults.MaxPages
	}
	if limits.MaxChars <= 0 {
		limits.MaxChars = defaults.MaxChars
	}
	return &PDFResolver{
		limits: limits,
		http:   &http.Client{Timeout: pdfDownloadTimeout},
		log:    orDefault(log),
	}
}

func (r *PDFResolver) Resolve(ctx context.Context, url string) (text string, err error) {
	defer recoverSoft(&err, r.log, "pdf", url)

	path, err := r.download(ctx, url)
	if err != nil {
		r.log.Error("download pdf failed", "url", url, "error", err)
		return "", err
	}
	defer os.Remove(path)

	text, err = r.extract(path)
	if err != nil {
		r.log.Error("extract pdf failed", "url", url, "error", err)
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoContent
	}
	return r.truncate(text), nil
}

// download streams url into a temp file and returns its path. The file is
// removed here on every failure; on success the caller removes it.
func (r *PDFResolver) download(ctx context.Context, url string) (path string, err error) {
	ctx, cancel := context.WithTimeout(ctx, pdfDownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download pdf: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "zssm-*.pdf")
	if err != nil {
		return "", err
	}
	defer func() {
		closeErr := tmp.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	buf := make([]byte, pdfChunkSize)
	var total int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				return "", err
			}
			total += int64(n)
			if total > r.limits.MaxSize {
				r.log.Error("pdf too large", "url", url, "bytes", total, "limit", r.limits.MaxSize)
				return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, r.limits.MaxSize)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return "", readErr
		}
	}

	kind, err := mimetype.DetectFile(tmp.Name())
	if err != nil {
		return "", err
	}
	if !kind.Is("application/pdf") {
		return "", fmt.Errorf("not a pdf: %s", kind)
	}
	return tmp.Name(), nil
}

func (r *PDFResolver) extract(path string) (string, error) {
	doc, closeDoc, err := openDocument(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer closeDoc()

	pages := doc.NumPage()
	if pages > r.limits.MaxPages {
		r.log.Info("pdf has too many pages, keeping the first ones", "pages", pages, "limit", r.limits.MaxPages)
		pages = r.limits.MaxPages
	}
	texts := make([]string, 0, pages)
	for n := 1; n <= pages; n++ {
		text, err := doc.PageText(n)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", n, err)
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, "\n"), nil
}

func (r *PDFResolver) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= r.limits.MaxChars {
		return text
	}
	r.log.Info("pdf text truncated", "chars", len(runes), "limit", r.limits.MaxChars)
	return string(runes[:r.limits.MaxChars]) + TruncationMarker
}
