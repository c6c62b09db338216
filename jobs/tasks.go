package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverlayReconcile runs one maintenance pass over sessions and the
	// overlay store.
	TaskOverlayReconcile = "overlay:reconcile"
)

// ReconcilePayload describes a reconcile run. Reason is recorded in logs only.
type ReconcilePayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewReconcileTask constructs an Asynq task for TaskOverlayReconcile.
func NewReconcileTask(reason string) (*asynq.Task, error) {
	if reason == "" {
		reason = "scheduled"
	}
	data, err := json.Marshal(ReconcilePayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverlayReconcile, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
