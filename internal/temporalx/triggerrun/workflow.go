package triggerrun

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

func Workflow(ctx workflow.Context, in Input) error {
	if in.Event.ID == "" {
		return temporal.NewNonRetryableApplicationError("trigger_run: missing event id", ErrTypePermanent, nil)
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        in.MaxAttempts,
			NonRetryableErrorTypes: []string{ErrTypePermanent},
		},
	})
	return workflow.ExecuteActivity(ctx, ActivityExecute, in).Get(ctx, nil)
}
