package store

import (
	"context"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("not found")

const (
	StatusRunning  = "running"
	StatusAnswered = "answered"
	StatusFailed   = "failed"
)

// Request is the metadata kept for one explain command. Message text is
// never stored.
type Request struct {
	ID        string
	MessageID string
	Status    string
	Stage     string
	CreatedAt string
	UpdatedAt string
}

type RequestEvent struct {
	RequestID string
	Seq       int64
	Type      string
	Timestamp string
	Source    string
	TraceID   string
	Payload   map[string]any
}

type Store interface {
	CreateRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, requestID string) (*Request, error)
	ListRequests(ctx context.Context, limit int) ([]Request, error)
	AppendEvent(ctx context.Context, event RequestEvent) error
	ListEvents(ctx context.Context, requestID string, afterSeq int64) ([]RequestEvent, error)
	NextSeq(ctx context.Context, requestID string) (int64, error)
	Ping(ctx context.Context) error
}

// NormalizeEventType lower-cases and dots an event type ("Answer_Ready" ->
// "answer.ready").
func NormalizeEventType(eventType string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(eventType)), "_", ".")
}

// StateFromEvent maps a checkpoint event onto the request status and stage
// it implies. ok is false for events that do not move the request.
func StateFromEvent(event RequestEvent) (status string, stage string, ok bool) {
	switch NormalizeEventType(event.Type) {
	case "request.accepted":
		return StatusRunning, "accepted", true
	case "content.resolved":
		return StatusRunning, "resolved", true
	case "answer.ready":
		return StatusAnswered, "answered", true
	case "request.failed":
		stage := readString(event.Payload, "stage")
		if stage == "" {
			stage = "unknown"
		}
		return StatusFailed, stage, true
	default:
		return "", "", false
	}
}

func readString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
