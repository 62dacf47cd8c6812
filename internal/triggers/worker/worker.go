package worker

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/observability"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/realtime/bus"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

// Worker consumes the trigger bus with a fixed pool of goroutines.
type Worker struct {
	bus         bus.Bus
	exec        Executor
	log         *logger.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewWorker(b bus.Bus, exec Executor, baseLog *logger.Logger, metrics *observability.Metrics, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		bus:         b,
		exec:        exec,
		log:         baseLog.With("component", "TriggerWorker"),
		metrics:     metrics,
		concurrency: concurrency,
	}
}

// Run blocks until ctx is done or the bus closes.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting trigger worker pool", "concurrency", w.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			err := w.bus.Consume(gctx, func(ctx context.Context, ev triggers.Event) error {
				return w.handle(ctx, workerID, ev)
			})
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			if errors.Is(err, context.Canceled) || errors.Is(err, bus.ErrClosed) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// handle acks permanent failures so they are not redelivered.
func (w *Worker) handle(ctx context.Context, workerID int, ev triggers.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Trigger execution panic", "worker_id", workerID, "event_id", ev.ID, "path", ev.Path, "panic", r)
			err = errFromRecover(r)
		}
		if err != nil && Classify(err) == Permanent {
			w.log.Error("Trigger event failed permanently; dropped",
				"worker_id", workerID,
				"event_id", ev.ID,
				"kind", ev.Kind,
				"path", ev.Path,
				"error", err,
			)
			w.metrics.ObserveEvent(string(ev.Kind), "dropped")
			err = nil
		}
	}()
	if err := w.exec.Execute(ctx, ev); err != nil {
		w.log.Warn("Trigger event failed; will be redelivered",
			"worker_id", workerID,
			"event_id", ev.ID,
			"path", ev.Path,
			"error", err,
		)
		return err
	}
	return nil
}
