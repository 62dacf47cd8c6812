// Package triggerrun runs one trigger event as a Temporal workflow so failed
// executions are retried durably.
package triggerrun

import "github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"

const (
	WorkflowName    = "trigger_run"
	ActivityExecute = "trigger_execute"

	// ErrTypePermanent is the application error type Temporal does not retry.
	ErrTypePermanent = "TriggerPermanentError"
)

type Input struct {
	Event       triggers.Event `json:"event"`
	MaxAttempts int32          `json:"max_attempts"`
}
