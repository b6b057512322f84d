package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/store"
)

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]store.Request
	events   map[string][]store.RequestEvent
	seq      map[string]int64
}

func New() *MemoryStore {
	return &MemoryStore{
		requests: map[string]store.Request{},
		events:   map[string][]store.RequestEvent{},
		seq:      map[string]int64{},
	}
}

func (m *MemoryStore) CreateRequest(ctx context.Context, req store.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if req.Status == "" {
		req.Status = store.StatusRunning
	}
	if req.CreatedAt == "" {
		req.CreatedAt = now
	}
	if req.UpdatedAt == "" {
		req.UpdatedAt = req.CreatedAt
	}
	m.requests[req.ID] = req
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, requestID string) (*store.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[requestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &req, nil
}

// ListRequests returns the newest requests first.
func (m *MemoryStore) ListRequests(ctx context.Context, limit int) ([]store.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Request, 0, len(m.requests))
	for _, req := range m.requests {
		results = append(results, req)
	}
	sort.Slice(results, func(i, j int) bool {
		return parseTime(results[i].CreatedAt).After(parseTime(results[j].CreatedAt))
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event store.RequestEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Type = store.NormalizeEventType(event.Type)
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	event.Payload = cloneMap(event.Payload)
	m.events[event.RequestID] = append(m.events[event.RequestID], event)
	m.applyRequestStateLocked(event)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, requestID string, afterSeq int64) ([]store.RequestEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	filtered := []store.RequestEvent{}
	for _, event := range m.events[requestID] {
		if event.Seq > afterSeq {
			filtered = append(filtered, event)
		}
	}
	return filtered, nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, requestID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[requestID] += 1
	return m.seq[requestID], nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) applyRequestStateLocked(event store.RequestEvent) {
	req, ok := m.requests[event.RequestID]
	if !ok {
		return
	}
	status, stage, ok := store.StateFromEvent(event)
	if !ok {
		return
	}
	req.Status = status
	req.Stage = stage
	req.UpdatedAt = event.Timestamp
	m.requests[event.RequestID] = req
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func cloneMap(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}
