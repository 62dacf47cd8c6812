// Package bus carries trigger events from their sources to the executor.
package bus

import (
	"context"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

// HandlerFunc processes one delivery. A returned error leaves the event to be
// redelivered according to the bus's delivery policy.
type HandlerFunc func(ctx context.Context, ev triggers.Event) error

type Bus interface {
	Publish(ctx context.Context, ev triggers.Event) error
	// Consume blocks delivering events to fn until ctx is done or the bus closes.
	Consume(ctx context.Context, fn HandlerFunc) error
	Close() error
}

// DocumentNotifier publishes every committed document change as an event.
func DocumentNotifier(b Bus) docstore.Notifier {
	return docstore.NotifierFunc(func(ctx context.Context, ch docstore.Change) error {
		return b.Publish(ctx, triggers.DocumentEvent(ch))
	})
}
