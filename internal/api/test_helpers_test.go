package api

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/events"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/pipeline"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateRequest(ctx context.Context, req store.Request) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockStore) GetRequest(ctx context.Context, requestID string) (*store.Request, error) {
	args := m.Called(ctx, requestID)
	if value := args.Get(0); value != nil {
		return value.(*store.Request), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListRequests(ctx context.Context, limit int) ([]store.Request, error) {
	args := m.Called(ctx, limit)
	var result []store.Request
	if value := args.Get(0); value != nil {
		result = value.([]store.Request)
	}
	return result, args.Error(1)
}

func (m *MockStore) AppendEvent(ctx context.Context, event store.RequestEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) ListEvents(ctx context.Context, requestID string, afterSeq int64) ([]store.RequestEvent, error) {
	args := m.Called(ctx, requestID, afterSeq)
	var result []store.RequestEvent
	if value := args.Get(0); value != nil {
		result = value.([]store.RequestEvent)
	}
	return result, args.Error(1)
}

func (m *MockStore) NextSeq(ctx context.Context, requestID string) (int64, error) {
	args := m.Called(ctx, requestID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Subscribe(ctx context.Context, requestID string) <-chan events.Event {
	args := m.Called(ctx, requestID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.Event); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.Event); ok {
			return ch
		}
	}
	return nil
}

type MockExplainer struct {
	mock.Mock
}

func (m *MockExplainer) Explain(ctx context.Context, req pipeline.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type stubBrowser bool

func (b stubBrowser) Ready() bool {
	return bool(b)
}

func newTestServer(t *testing.T, store store.Store, broker Broker, explainer Explainer, browser BrowserProbe) *httptest.Server {
	t.Helper()
	server := NewServer(store, broker, explainer, browser, slog.New(slog.DiscardHandler))
	return httptest.NewServer(server.Router())
}
