package triggerrun

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/worker"
)

type Activities struct {
	Log  *logger.Logger
	Exec worker.Executor
}

func (a *Activities) Execute(ctx context.Context, in Input) error {
	if a == nil || a.Exec == nil {
		return fmt.Errorf("triggerrun: activity not configured")
	}
	err := a.Exec.Execute(ctx, in.Event)
	if err == nil {
		return nil
	}
	attempt := int32(0)
	if activity.IsActivity(ctx) {
		attempt = activity.GetInfo(ctx).Attempt
	}
	if worker.Classify(err) == worker.Permanent {
		if a.Log != nil {
			a.Log.Error("Trigger event failed permanently",
				"event_id", in.Event.ID,
				"kind", in.Event.Kind,
				"path", in.Event.Path,
				"attempt", attempt,
				"error", err,
			)
		}
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePermanent, err)
	}
	if a.Log != nil {
		a.Log.Warn("Trigger event failed; Temporal will retry", "event_id", in.Event.ID, "path", in.Event.Path, "attempt", attempt, "error", err)
	}
	return err
}
