package triggerrun

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

// Dispatcher hands events to Temporal instead of running them in-process. The
// workflow ID is derived from the event ID so redelivered events start once.
type Dispatcher struct {
	client      temporalsdkclient.Client
	taskQueue   string
	maxAttempts int32
}

func NewDispatcher(c temporalsdkclient.Client, taskQueue string, maxAttempts int) *Dispatcher {
	return &Dispatcher{client: c, taskQueue: taskQueue, maxAttempts: int32(maxAttempts)}
}

func WorkflowID(ev triggers.Event) string {
	return "trigger-" + ev.ID
}

func (d *Dispatcher) Execute(ctx context.Context, ev triggers.Event) error {
	if d == nil || d.client == nil {
		return fmt.Errorf("triggerrun: temporal not configured")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                                       WorkflowID(ev),
		TaskQueue:                                d.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	_, err := d.client.ExecuteWorkflow(ctx, opts, WorkflowName, Input{Event: ev, MaxAttempts: d.maxAttempts})
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("start %s: %w", WorkflowID(ev), err)
	}
	return nil
}
