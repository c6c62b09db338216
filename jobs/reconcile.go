package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tremedam/Agendamento-Pro/internal/jobs"
	"github.com/tremedam/Agendamento-Pro/internal/reconcile"
)

// Reconciler is the maintenance pass executed by ReconcileJob.
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Result, error)
}

// ReconcileJob executes TaskOverlayReconcile tasks.
type ReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(r Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Reconciler: r, Logger: logger, Metrics: metrics}
}

// Handle executes the reconcile job.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("overlay reconcile: reconciler not configured")
	}
	var payload ReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskOverlayReconcile)
	res, err := j.Reconciler.RunOnce(ctx)
	j.Metrics.AddEvicted(res.RecordsEvicted)
	j.Metrics.AddSessionsExpired(res.SessionsRemoved)
	if err != nil {
		j.log().Error("reconcile", slog.String("reason", payload.Reason), slog.Any("error", err))
		return tracker.End(err)
	}
	j.log().Info("reconcile finished",
		slog.String("reason", payload.Reason),
		slog.Int("records_evicted", res.RecordsEvicted),
		slog.Int("sessions_removed", res.SessionsRemoved))
	return tracker.End(nil)
}

// TaskHandler registers the job with a Worker.
func (j *ReconcileJob) TaskHandler() TaskHandler {
	return TaskHandler{Type: TaskOverlayReconcile, Handler: j.Handle}
}

func (j *ReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOverlayReconcile))
	}
	return slog.Default().With(slog.String("job", TaskOverlayReconcile))
}
