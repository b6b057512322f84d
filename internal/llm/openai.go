package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout     = 120 * time.Second
	maxStreamLineBytes = 4 << 20
	maxErrorBodyBytes  = 1 << 20
)

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// Client talks to an OpenAI-compatible /chat/completions endpoint. It owns
// its connection pool; call Close when done with it.
type Client struct {
	token   string
	model   string
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

func newClient(cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		token:   strings.TrimSpace(cfg.Token),
		model:   strings.TrimSpace(cfg.Model),
		baseURL: strings.TrimRight(cfg.Endpoint, "/"),
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Model() string {
	return c.model
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

func (c *Client) Create(ctx context.Context, messages []Message) (Completion, error) {
	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Choices []struct {
			Message struct {
				Content          string `json:"content"`
				ReasoningContent string `json:"reasoning_content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Completion{}, err
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, errors.New("LLM response had no choices")
	}
	return Completion{
		Content:          parsed.Choices[0].Message.Content,
		ReasoningContent: parsed.Choices[0].Message.ReasoningContent,
	}, nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Stream issues a streaming request and yields every non-empty delta as it
// arrives. Accumulation is left to the caller (see Accumulator). The
// sequence ends after "data: [DONE]" or at end of body; errors are yielded
// once and end the sequence.
func (c *Client) Stream(ctx context.Context, messages []Message) iter.Seq2[Delta, error] {
	return func(yield func(Delta, error) bool) {
		resp, err := c.post(ctx, messages, true)
		if err != nil {
			yield(Delta{}, err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				c.log.Warn("skipping unparsable stream line", "model", c.model, "error", err, "line", Preview(data))
				continue
			}
			if chunk.Error != nil {
				yield(Delta{}, &APIError{Message: defaultIfEmpty(chunk.Error.Message, "Unknown error"), Code: numericCode(chunk.Error.Code, 0)})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := Delta{
				Content:          chunk.Choices[0].Delta.Content,
				ReasoningContent: chunk.Choices[0].Delta.ReasoningContent,
			}
			if delta.Content == "" && delta.ReasoningContent == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Delta{}, err)
		}
	}
}

func (c *Client) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	if c.token == "" {
		return nil, errors.New("missing API key for remote provider")
	}
	if c.model == "" {
		return nil, errors.New("missing model for remote provider")
	}
	payload := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   stream,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	_, _ = io.Copy(io.Discard, resp.Body)

	apiErr := &APIError{Message: fmt.Sprintf("HTTP Error %d", resp.StatusCode), Code: resp.StatusCode}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return apiErr
	}
	apiErr.Message = "Unknown error"
	source := body
	switch nested := body["error"].(type) {
	case map[string]any:
		source = nested
	case string:
		if nested != "" {
			apiErr.Message = nested
		}
	}
	if message, ok := source["message"].(string); ok && message != "" {
		apiErr.Message = message
	}
	apiErr.Code = numericCode(source["code"], resp.StatusCode)
	return apiErr
}

func numericCode(value any, fallback int) int {
	if code, ok := value.(float64); ok && code != 0 {
		return int(code)
	}
	return fallback
}
