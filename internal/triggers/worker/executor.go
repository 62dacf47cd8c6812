// Package worker runs trigger events through the registered recompute handlers
// and applies the writes they propose.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/observability"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/apply"
)

// Executor processes one event to completion.
type Executor interface {
	Execute(ctx context.Context, ev triggers.Event) error
}

type ExecutorFunc func(ctx context.Context, ev triggers.Event) error

func (f ExecutorFunc) Execute(ctx context.Context, ev triggers.Event) error { return f(ctx, ev) }

// InlineExecutor runs every matching handler in the calling goroutine.
type InlineExecutor struct {
	registry *triggers.Registry
	docs     docstore.Store
	objects  apply.ObjectStore
	applier  *apply.Applier
	log      *logger.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer

	policy  triggers.Policy
	timeout time.Duration
	now     func() time.Time

	versions *versionTracker
	locks    *pathLocks
}

type ExecutorOption func(*InlineExecutor)

func WithPolicy(p triggers.Policy) ExecutorOption {
	return func(e *InlineExecutor) { e.policy = p }
}

// WithHandlerTimeout bounds each handler invocation including its writes.
func WithHandlerTimeout(d time.Duration) ExecutorOption {
	return func(e *InlineExecutor) { e.timeout = d }
}

func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *InlineExecutor) { e.metrics = m }
}

func WithClock(now func() time.Time) ExecutorOption {
	return func(e *InlineExecutor) { e.now = now }
}

// WithVersionMemory sets how many document paths keep their last processed version.
func WithVersionMemory(n int) ExecutorOption {
	return func(e *InlineExecutor) { e.versions = newVersionTracker(n) }
}

func NewInlineExecutor(
	registry *triggers.Registry,
	docs docstore.Store,
	objects apply.ObjectStore,
	baseLog *logger.Logger,
	opts ...ExecutorOption,
) *InlineExecutor {
	e := &InlineExecutor{
		registry: registry,
		docs:     docs,
		objects:  objects,
		applier:  apply.New(docs, objects, baseLog),
		log:      baseLog.With("component", "TriggerExecutor"),
		tracer:   observability.Tracer(),
		policy:   triggers.DefaultPolicy(),
		timeout:  time.Minute,
		now:      func() time.Time { return time.Now().UTC() },
		versions: newVersionTracker(10000),
		locks:    newPathLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *InlineExecutor) Execute(ctx context.Context, ev triggers.Event) error {
	if !ev.Kind.Valid() {
		e.metrics.ObserveEvent(string(ev.Kind), "rejected")
		return fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	matches := e.registry.Match(ev)
	if len(matches) == 0 {
		e.metrics.ObserveEvent(string(ev.Kind), "unmatched")
		return nil
	}

	unlock := e.locks.Lock(ev.Path)
	defer unlock()

	if ev.Kind == triggers.KindDocumentWrite {
		rebased, err := e.rebaseIfStale(ctx, ev)
		if err != nil {
			return err
		}
		ev = rebased
	}

	env := triggers.Env{
		Docs:    e.docs,
		Objects: e.objects,
		Now:     ev.Time,
		Policy:  e.policy,
		Log:     e.log.With("event_id", ev.ID, "path", ev.Path),
	}
	if env.Now.IsZero() {
		env.Now = e.now()
	}

	var firstErr error
	for _, m := range matches {
		if err := e.runHandler(ctx, env, ev, m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		e.metrics.ObserveEvent(string(ev.Kind), "failed")
		return firstErr
	}
	if ev.Kind == triggers.KindDocumentWrite {
		if ev.After == nil {
			e.versions.Forget(ev.Path)
		} else {
			e.versions.Observe(ev.Path, ev.Version())
		}
	}
	e.metrics.ObserveEvent(string(ev.Kind), "processed")
	return nil
}

// rebaseIfStale replaces After with the current document when a newer version
// of the path was already processed, so handlers never act on superseded state.
func (e *InlineExecutor) rebaseIfStale(ctx context.Context, ev triggers.Event) (triggers.Event, error) {
	if !e.versions.Stale(ev.Path, ev.Version()) {
		return ev, nil
	}
	cur, err := e.docs.Get(ctx, docstore.Path(ev.Path))
	if err != nil {
		return ev, fmt.Errorf("reload %s: %w", ev.Path, err)
	}
	e.metrics.IncStaleEvent()
	e.log.Debug("stale document event rebased on current state",
		"event_id", ev.ID,
		"path", ev.Path,
		"event_version", ev.Version(),
	)
	ev.After = cur
	return ev, nil
}

func (e *InlineExecutor) runHandler(ctx context.Context, env triggers.Env, ev triggers.Event, m triggers.Match) (err error) {
	name := m.Handler.Name()
	start := time.Now()
	hctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	hctx, span := e.tracer.Start(hctx, "trigger."+name, trace.WithAttributes(
		attribute.String("trigger.handler", name),
		attribute.String("trigger.kind", string(ev.Kind)),
		attribute.String("trigger.path", ev.Path),
		attribute.String("trigger.event_id", ev.ID),
	))
	var res apply.Result
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Trigger handler panic", "handler", name, "event_id", ev.ID, "path", ev.Path, "panic", r)
			err = errFromRecover(r)
		}
		status := "ok"
		if err != nil {
			status = Classify(err).String()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("trigger.writes_applied", res.Applied), attribute.Int("trigger.writes_skipped", res.Skipped))
		span.End()
		e.metrics.ObserveHandler(name, status, time.Since(start), res.Applied, res.Skipped)
	}()

	writes, err := m.Handler.Handle(hctx, env, ev, m.Params)
	if err != nil {
		return fmt.Errorf("handler %s: %w", name, err)
	}
	if len(writes) == 0 {
		return nil
	}
	res, err = e.applier.Apply(hctx, writes)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.log.Warn("Trigger handler timed out", "handler", name, "event_id", ev.ID, "timeout", e.timeout.String())
		}
		return fmt.Errorf("handler %s: %w", name, err)
	}
	e.log.Debug("Trigger handler applied writes",
		"handler", name,
		"event_id", ev.ID,
		"path", ev.Path,
		"applied", res.Applied,
		"skipped", res.Skipped,
	)
	return nil
}
