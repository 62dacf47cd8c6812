package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/temporalx"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/temporalx/triggerrun"
	triggerworker "github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/worker"
)

// Runner polls the trigger task queue and executes events with the inline executor.
type Runner struct {
	log         *logger.Logger
	tc          temporalsdkclient.Client
	cfg         temporalx.Config
	exec        triggerworker.Executor
	concurrency int

	startMaxWait time.Duration
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config, exec triggerworker.Executor, concurrency int) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if exec == nil {
		return nil, fmt.Errorf("temporal worker missing executor")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		log:          log.With("component", "TemporalTriggerWorker"),
		tc:           tc,
		cfg:          cfg,
		exec:         exec,
		concurrency:  concurrency,
		startMaxWait: cfg.DialMaxWait,
	}, nil
}

// Start returns once the worker is polling; it stops when ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)
	if r.cfg.AutoRegisterNamespace {
		if err := temporalx.EnsureNamespace(ctx, r.cfg, r.log); err != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", r.cfg.Namespace, "error", err)
		}
	}

	deadline := time.Now().Add(r.startMaxWait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		notFound := errors.As(startErr, &nfe)
		if notFound && r.cfg.AutoRegisterNamespace {
			_ = temporalx.EnsureNamespace(ctx, r.cfg, r.log)
		}
		if r.startMaxWait <= 0 || time.Now().After(deadline) {
			if notFound {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, startErr)
			}
			return startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "task_queue", r.cfg.TaskQueue, "attempt", attempt, "error", startErr)
		time.Sleep(time.Duration(attempt) * 250 * time.Millisecond)
	}
}

func (r *Runner) newWorker() worker.Worker {
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     r.concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: r.concurrency,
	})
	acts := &triggerrun.Activities{Log: r.log, Exec: r.exec}
	w.RegisterWorkflowWithOptions(triggerrun.Workflow, workflow.RegisterOptions{Name: triggerrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Execute, activity.RegisterOptions{Name: triggerrun.ActivityExecute})
	return w
}
