package resolvers

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/llm"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/segment"
)

const (
	imageFetchTimeout = 30 * time.Second
	maxImagePayload   = 5 << 20
	maxImageEdge      = 4096
	jpegQuality       = 80
	maxImageDownload  = 64 << 20
	// decoded canvases above this are refused before any pixel is allocated
	maxImagePixels = 89478485

	VisionInstruction = "请你作为你文本模型姐妹的眼睛, 告诉她这张图片的内容"
)

// ImageResolver describes an image by showing it to a vision model.
type ImageResolver struct {
	vision llm.ChatClient
	http   *http.Client
	log    *slog.Logger
}

// NewImageResolver returns a resolver backed by vision. A nil vision client
// makes every Resolve fail.
func NewImageResolver(vision llm.ChatClient, log *slog.Logger) *ImageResolver {
	return &ImageResolver{
		vision: vision,
		http:   newImageHTTPClient(nil),
		log:    orDefault(log),
	}
}

// newImageHTTPClient pins image downloads to TLS 1.2 with AEAD suites and
// HTTP/1.1. roots is nil outside tests.
func newImageHTTPClient(roots *x509.CertPool) *http.Client {
	return &http.Client{
		Timeout: imageFetchTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
				MaxVersion: tls.VersionTLS12,
				RootCAs:    roots,
				CipherSuites: []uint16{
					tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
					tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
					tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
					tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
					tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
					tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				},
			},
			TLSNextProto:        map[string]func(string, *tls.Conn) http.RoundTripper{},
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

func (r *ImageResolver) Resolve(ctx context.Context, img segment.Image) (description string, err error) {
	defer recoverSoft(&err, r.log, "image", img.URL)

	if r.vision == nil {
		return "", errors.New("vision model not configured")
	}
	if img.URL == "" {
		return "", fmt.Errorf("image %q has no url: %w", img.ID, ErrNoContent)
	}

	dataURL, err := r.fetchDataURL(ctx, img.URL)
	if err != nil {
		r.log.Error("fetch image failed", "url", img.URL, "error", err)
		return "", err
	}

	r.log.Info("describing image", "model", r.vision.Model(), "url", img.URL)
	stream := r.vision.Stream(ctx, []llm.Message{{
		Role: "user",
		Parts: []llm.ContentPart{
			{Type: "image_url", ImageURL: &llm.ImageURL{URL: dataURL}},
			{Type: "text", Text: VisionInstruction},
		},
	}})
	completion, err := llm.Collect(stream, r.log, "image")
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	description = strings.TrimSpace(completion.Content)
	if description == "" {
		return "", ErrNoContent
	}
	return description, nil
}

func (r *ImageResolver) fetchDataURL(ctx context.Context, url string) (string, error) {
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
		return "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageDownload))
	if err != nil {
		return "", err
	}
	return encodeDataURL(data)
}

// encodeDataURL re-encodes any supported image as a JPEG data URL of at most
// 5 MiB. Payloads over 5 MiB are first shrunk to fit within 4096x4096.
func encodeDataURL(data []byte) (string, error) {
	if kind := mimetype.Detect(data); !strings.HasPrefix(kind.String(), "image/") {
		return "", fmt.Errorf("not an image: %s", kind)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxImagePixels {
		return "", fmt.Errorf("image canvas %dx%d: %w", cfg.Width, cfg.Height, ErrTooLarge)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	if len(data) > maxImagePayload {
		img = thumbnail(img, maxImageEdge)
	}
	return encodeWithin(img, maxImagePayload)
}

// encodeWithin encodes img as a JPEG data URL, shrinking the longest edge by
// a quarter per attempt until the data URL is at most limit bytes.
func encodeWithin(img image.Image, limit int) (string, error) {
	for {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: jpegQuality}); err != nil {
			return "", fmt.Errorf("encode jpeg: %w", err)
		}
		dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
		if len(dataURL) <= limit {
			return dataURL, nil
		}
		b := img.Bounds()
		longest := max(b.Dx(), b.Dy())
		if longest <= 1 {
			return "", fmt.Errorf("re-encoded image still %d bytes: %w", len(dataURL), ErrTooLarge)
		}
		img = thumbnail(img, longest*3/4)
	}
}

func thumbnail(src image.Image, edge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= edge && h <= edge {
		return src
	}
	scale := min(float64(edge)/float64(w), float64(edge)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// flatten composites src onto white, dropping any alpha channel.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
