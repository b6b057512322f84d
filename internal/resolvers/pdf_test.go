package resolvers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

type fakeDocument struct {
	pages []string
	err   error
	asked []int
}

func (d *fakeDocument) NumPage() int { return len(d.pages) }

func (d *fakeDocument) PageText(n int) (string, error) {
	d.asked = append(d.asked, n)
	if d.err != nil {
		return "", d.err
	}
	return d.pages[n-1], nil
}

// stubDocument swaps openDocument and records every path it was asked to
// open so tests can check the temp file is gone afterwards.
func stubDocument(t *testing.T, doc *fakeDocument) *[]string {
	t.Helper()
	var opened []string
	original := openDocument
	openDocument = func(path string) (document, func() error, error) {
		opened = append(opened, path)
		if doc == nil {
			return nil, nil, errors.New("malformed xref")
		}
		return doc, func() error { return nil }, nil
	}
	t.Cleanup(func() { openDocument = original })
	return &opened
}

func pdfServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

var minimalPDFHeader = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

func requireRemoved(t *testing.T, paths []string) {
	t.Helper()
	require.NotEmpty(t, paths)
	for _, p := range paths {
		_, err := os.Stat(p)
		require.True(t, os.IsNotExist(err), "temp file %s still exists", p)
	}
}

func TestPDFResolver_FullText(t *testing.T) {
	doc := &fakeDocument{pages: []string{"page one", "page two"}}
	opened := stubDocument(t, doc)
	server := pdfServer(t, minimalPDFHeader)

	r := NewPDFResolver(DefaultPDFLimits(), slog.New(slog.DiscardHandler))
	got, err := r.Resolve(context.Background(), server.URL+"/a.pdf")
	require.NoError(t, err)
	require.Equal(t, "page one\npage two", got)
	requireRemoved(t, *opened)
}

func TestPDFResolver_PageCap(t *testing.T) {
	pages := make([]string, 8)
	for i := range pages {
		pages[i] = fmt.Sprintf("p%d", i+1)
	}
	doc := &fakeDocument{pages: pages}
	stubDocument(t, doc)
	server := pdfServer(t, minimalPDFHeader)

	r := NewPDFResolver(PDFLimits{MaxPages: 3}, slog.New(slog.DiscardHandler))
	got, err := r.Resolve(context.Background(), server.URL)
	require.NoError(t, err)
	require.Equal(t, "p1\np2\np3", got)
	require.Equal(t, []int{1, 2, 3}, doc.asked)
}

func TestPDFResolver_CharCap(t *testing.T) {
	doc := &fakeDocument{pages: []string{strings.Repeat("字", 40), strings.Repeat("b", 40)}}
	stubDocument(t, doc)
	server := pdfServer(t, minimalPDFHeader)

	r := NewPDFResolver(PDFLimits{MaxChars: 50}, slog.New(slog.DiscardHandler))
	got, err := r.Resolve(context.Background(), server.URL)
	require.NoError(t, err)

	body, ok := strings.CutSuffix(got, TruncationMarker)
	require.True(t, ok)
	require.Equal(t, 50, utf8.RuneCountInString(body))
	require.Equal(t, strings.Repeat("字", 40)+"\n"+strings.Repeat("b", 9), body)
}

func TestPDFResolver_TooLarge(t *testing.T) {
	opened := stubDocument(t, &fakeDocument{pages: []string{"never"}})
	body := append(bytes.Clone(minimalPDFHeader), bytes.Repeat([]byte("x"), 200<<10)...)
	server := pdfServer(t, body)

	r := NewPDFResolver(PDFLimits{MaxSize: 100 << 10}, slog.New(slog.DiscardHandler))
	got, err := r.Resolve(context.Background(), server.URL)
	require.ErrorIs(t, err, ErrTooLarge)
	require.Empty(t, got)
	require.Empty(t, *opened, "an oversized download must never be parsed")
}

func TestPDFResolver_SoftFailures(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()
		r := NewPDFResolver(DefaultPDFLimits(), slog.New(slog.DiscardHandler))
		_, err := r.Resolve(context.Background(), server.URL)
		require.ErrorContains(t, err, "status 404")
	})

	t.Run("not a pdf", func(t *testing.T) {
		opened := stubDocument(t, &fakeDocument{})
		server := pdfServer(t, []byte("<html><body>login required</body></html>"))
		r := NewPDFResolver(DefaultPDFLimits(), slog.New(slog.DiscardHandler))
		_, err := r.Resolve(context.Background(), server.URL)
		require.ErrorContains(t, err, "not a pdf")
		require.Empty(t, *opened)
	})

	t.Run("open error", func(t *testing.T) {
		opened := stubDocument(t, nil)
		server := pdfServer(t, minimalPDFHeader)
		r := NewPDFResolver(DefaultPDFLimits(), slog.New(slog.DiscardHandler))
		_, err := r.Resolve(context.Background(), server.URL)
		require.ErrorContains(t, err, "malformed xref")
		requireRemoved(t, *opened)
	})

	t.Run("page error", func(t *testing.T) {
		stubDocument(t, &fakeDocument{pages: []string{"a"}, err: errors.New("bad font")})
		server := pdfServer(t, minimalPDFHeader)
		r := NewPDFResolver(DefaultPDFLimits(), slog.New(slog.DiscardHandler))
		_, err := r.Resolve(context.Background(), server.URL)
		require.ErrorContains(t, err, "page 1")
	})

	t.Run("empty text", func(t *testing.T) {
		stubDocument(t, &fakeDocument{pages: []string{"", " "}})
		server := pdfServer(t, minimalPDFHeader)
		r := NewPDFResolver(DefaultPDFLimits(), slog.New(slog.DiscardHandler))
		_, err := r.Resolve(context.Background(), server.URL)
		require.ErrorIs(t, err, ErrNoContent)
	})
}

func TestPDFResolver_CorruptDocumentWithRealParser(t *testing.T) {
	server := pdfServer(t, append(bytes.Clone(minimalPDFHeader), []byte("1 0 obj\n<<>>\nendobj\n")...))
	r := NewPDFResolver(DefaultPDFLimits(), slog.New(slog.DiscardHandler))
	got, err := r.Resolve(context.Background(), server.URL)
	require.Error(t, err)
	require.Empty(t, got)
}
