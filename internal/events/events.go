package events

import (
	"context"
	"sync"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/store"
)

// Checkpoint event types emitted by the explain pipeline.
const (
	TypeAccepted = "request.accepted"
	TypeResolved = "content.resolved"
	TypeAnswered = "answer.ready"
	TypeFailed   = "request.failed"
)

type Event struct {
	RequestID string         `json:"request_id"`
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Ts        string         `json:"ts"`
	Source    string         `json:"source"`
	TraceID   string         `json:"trace_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}

func FromStore(event store.RequestEvent) Event {
	return Event{
		RequestID: event.RequestID,
		Seq:       event.Seq,
		Type:      store.NormalizeEventType(event.Type),
		Ts:        event.Timestamp,
		Source:    event.Source,
		TraceID:   event.TraceID,
		Payload:   event.Payload,
	}
}

// subscriberBuffer is how many events a subscriber may lag before Publish
// starts dropping for it.
const subscriberBuffer = 16

type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan Event]struct{}{},
	}
}

// Subscribe returns a buffered channel of events for one request. The
// channel closes when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, requestID string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subscribers[requestID] == nil {
		b.subscribers[requestID] = map[chan Event]struct{}{}
	}
	b.subscribers[requestID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[requestID] != nil {
			delete(b.subscribers[requestID], ch)
			if len(b.subscribers[requestID]) == 0 {
				delete(b.subscribers, requestID)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish never blocks; slow subscribers drop events. Sends happen under
// the read lock so a cancelled subscriber's channel is never written after
// close.
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.RequestID] {
		select {
		case ch <- event:
		default:
		}
	}
}
