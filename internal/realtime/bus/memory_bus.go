package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

var ErrClosed = errors.New("bus closed")

type queued struct {
	ev       triggers.Event
	attempts int
}

// MemoryBus is an in-process FIFO. Failed deliveries are re-queued at the tail
// until maxDeliveries is reached.
type MemoryBus struct {
	log           *logger.Logger
	maxDeliveries int

	mu     sync.Mutex
	queue  []queued
	signal chan struct{}
	closed bool
}

func NewMemoryBus(log *logger.Logger, maxDeliveries int) *MemoryBus {
	if maxDeliveries < 1 {
		maxDeliveries = 1
	}
	return &MemoryBus{
		log:           log.With("service", "MemoryTriggerBus"),
		maxDeliveries: maxDeliveries,
		signal:        make(chan struct{}, 1),
	}
}

func (b *MemoryBus) Publish(_ context.Context, ev triggers.Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queue = append(b.queue, queued{ev: ev})
	b.mu.Unlock()
	b.wake()
	return nil
}

func (b *MemoryBus) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *MemoryBus) pop() (queued, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return queued{}, false
	}
	q := b.queue[0]
	b.queue[0] = queued{}
	b.queue = b.queue[1:]
	if len(b.queue) > 0 {
		b.wake()
	}
	return q, true
}

// Next pops the oldest event without blocking.
func (b *MemoryBus) Next() (triggers.Event, bool) {
	q, ok := b.pop()
	return q.ev, ok
}

func (b *MemoryBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *MemoryBus) Consume(ctx context.Context, fn HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("handler required")
	}
	for {
		q, ok := b.pop()
		if !ok {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				b.wake()
				return ErrClosed
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.signal:
				continue
			}
		}
		q.attempts++
		if err := fn(ctx, q.ev); err != nil {
			b.redeliver(q, err)
		}
	}
}

func (b *MemoryBus) redeliver(q queued, cause error) {
	if q.attempts >= b.maxDeliveries {
		b.log.Error("trigger event dropped after max deliveries",
			"event_id", q.ev.ID,
			"kind", q.ev.Kind,
			"path", q.ev.Path,
			"attempts", q.attempts,
			"error", cause,
		)
		return
	}
	b.mu.Lock()
	if !b.closed {
		b.queue = append(b.queue, q)
	}
	b.mu.Unlock()
	b.wake()
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wake()
	return nil
}
