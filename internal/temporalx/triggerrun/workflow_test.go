package triggerrun

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/worker"
)

func runWorkflow(t *testing.T, exec worker.Executor, in Input) error {
	t.Helper()
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	acts := &Activities{Log: logger.Nop(), Exec: exec}
	env.RegisterActivityWithOptions(acts.Execute, activity.RegisterOptions{Name: ActivityExecute})
	env.ExecuteWorkflow(Workflow, in)
	require.True(t, env.IsWorkflowCompleted())
	return env.GetWorkflowError()
}

func identityEvent() triggers.Event {
	return triggers.Event{ID: "e1", Kind: triggers.KindIdentityCreate, Path: "users/u1"}
}

func TestWorkflowRetriesRetryableFailures(t *testing.T) {
	calls := 0
	exec := worker.ExecutorFunc(func(context.Context, triggers.Event) error {
		calls++
		if calls < 3 {
			return errors.New("store unavailable")
		}
		return nil
	})
	err := runWorkflow(t, exec, Input{Event: identityEvent(), MaxAttempts: 5})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWorkflowStopsOnPermanentFailure(t *testing.T) {
	calls := 0
	exec := worker.ExecutorFunc(func(context.Context, triggers.Event) error {
		calls++
		return worker.MarkPermanent(errors.New("bad event"))
	})
	err := runWorkflow(t, exec, Input{Event: identityEvent(), MaxAttempts: 5})
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, ErrTypePermanent, appErr.Type())
	require.Equal(t, 1, calls)
}

func TestWorkflowGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	exec := worker.ExecutorFunc(func(context.Context, triggers.Event) error {
		calls++
		return errors.New("still down")
	})
	err := runWorkflow(t, exec, Input{Event: identityEvent(), MaxAttempts: 2})
	require.Error(t, err)
	require.Equal(t, 2, calls)
}

func TestWorkflowRejectsEventWithoutID(t *testing.T) {
	exec := worker.ExecutorFunc(func(context.Context, triggers.Event) error { return nil })
	err := runWorkflow(t, exec, Input{Event: triggers.Event{Kind: triggers.KindIdentityCreate}})
	require.Error(t, err)
}
