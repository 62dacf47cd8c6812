package worker

import (
	"context"
	"fmt"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

// Queue yields pending events without blocking.
type Queue interface {
	Next() (triggers.Event, bool)
}

// Drain executes queued events, including the ones their writes enqueue, until
// the queue is empty. It returns the number of events executed.
func Drain(ctx context.Context, q Queue, exec Executor, maxSteps int) (int, error) {
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		ev, ok := q.Next()
		if !ok {
			return steps, nil
		}
		if steps >= maxSteps {
			return steps, fmt.Errorf("%w after %d events (next %s %s)", ErrNotConverged, steps, ev.Kind, ev.Path)
		}
		steps++
		if err := exec.Execute(ctx, ev); err != nil {
			return steps, fmt.Errorf("event %s %s: %w", ev.Kind, ev.Path, err)
		}
	}
}
