package audit

import (
	"context"
	"log/slog"

	"github.com/eol-uchile/uchileedxlogin/pkg/requestcontext"
)

// Worker decouples event emission from request handling. Enqueue never
// blocks; the inbox is drained by Run and delivered through the publisher.
type Worker struct {
	publisher *Publisher
	inbox     chan Event
	logger    *slog.Logger
}

func NewWorker(publisher *Publisher, buffer int, logger *slog.Logger) *Worker {
	return &Worker{
		publisher: publisher,
		inbox:     make(chan Event, buffer),
		logger:    logger,
	}
}

// Emit stamps the event from the request context and hands it to the
// worker. The request context is gone by delivery time, so the stamping
// cannot wait for the publisher.
func (w *Worker) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Actor == "" {
		event.Actor = requestcontext.Actor(ctx)
	}
	w.Enqueue(event)
	return nil
}

// Enqueue offers an event to the worker. Events are dropped with a warning
// when the inbox is full so request latency never depends on the broker.
func (w *Worker) Enqueue(event Event) {
	select {
	case w.inbox <- event:
	default:
		w.logger.Warn("audit inbox full, dropping event",
			"action", event.Action,
			"document_id", event.DocumentID,
		)
	}
}

// Run consumes the inbox until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.publisher.Emit(ctx, event); err != nil {
				w.logger.Error("failed to publish audit event",
					"action", event.Action,
					"error", err,
				)
			}
		}
	}
}
