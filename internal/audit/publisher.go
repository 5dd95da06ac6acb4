package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eol-uchile/uchileedxlogin/pkg/requestcontext"
)

// Sink delivers encoded events to a durable destination.
type Sink interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Publisher captures structured audit events. Events are keyed by document
// id so a person's history lands on one partition in order.
type Publisher struct {
	sink  Sink
	topic string
}

func NewPublisher(sink Sink, topic string) *Publisher {
	return &Publisher{sink: sink, topic: topic}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Actor == "" {
		event.Actor = requestcontext.Actor(ctx)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	return p.sink.Publish(ctx, p.topic, []byte(event.DocumentID), payload)
}
