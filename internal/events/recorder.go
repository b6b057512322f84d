package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/store"
)

type Recorder struct {
	store  store.Store
	broker *Broker
	source string
	log    *slog.Logger
}

func NewRecorder(st store.Store, broker *Broker, source string, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: st, broker: broker, source: source, log: log}
}

// Record appends one event to the store and fans it out to subscribers.
// The event is published even when the store write fails.
func (r *Recorder) Record(ctx context.Context, requestID string, eventType string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	event := store.RequestEvent{
		RequestID: requestID,
		Type:      store.NormalizeEventType(eventType),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    r.source,
		TraceID:   uuid.New().String(),
		Payload:   payload,
	}

	var err error
	if r.store != nil {
		event.Seq, err = r.store.NextSeq(ctx, requestID)
		if err == nil {
			err = r.store.AppendEvent(ctx, event)
		}
		if err != nil {
			r.log.Warn("record event failed", "request_id", requestID, "type", event.Type, "error", err)
		}
	}
	if r.broker != nil {
		r.broker.Publish(FromStore(event))
	}
	return err
}
