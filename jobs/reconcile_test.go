package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/tremedam/Agendamento-Pro/internal/jobs"
	"github.com/tremedam/Agendamento-Pro/internal/reconcile"
)

type stubReconciler struct {
	res   reconcile.Result
	err   error
	calls int
}

func (s *stubReconciler) RunOnce(context.Context) (reconcile.Result, error) {
	s.calls++
	return s.res, s.err
}

func TestNewReconcileTask(t *testing.T) {
	task, err := NewReconcileTask("")
	require.NoError(t, err)
	assert.Equal(t, TaskOverlayReconcile, task.Type())

	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "scheduled", payload.Reason)
}

func TestReconcileJobRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	stub := &stubReconciler{res: reconcile.Result{RecordsEvicted: 3, SessionsRemoved: 2, Resynced: true}}
	job := NewReconcileJob(stub, nil, metrics)

	task, err := NewReconcileTask("manual")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, stub.calls)

	count, err := testutil.GatherAndCount(reg, "agenda_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				values[mf.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, values["agenda_overlay_evicted_total"])
	assert.Equal(t, 2.0, values["agenda_sessions_expired_total"])
	assert.Equal(t, 1.0, values["agenda_jobs_total"])
}

func TestReconcileJobFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	stub := &stubReconciler{err: errors.New("mirror unavailable")}
	job := NewReconcileJob(stub, nil, metrics)

	task, err := NewReconcileTask("manual")
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))

	count, err := testutil.GatherAndCount(reg, "agenda_jobs_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReconcileJobRejectsMalformedPayload(t *testing.T) {
	job := NewReconcileJob(&stubReconciler{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskOverlayReconcile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var unset *ReconcileJob
	assert.Error(t, unset.Handle(context.Background(), asynq.NewTask(TaskOverlayReconcile, nil)))
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0}`, rr.Body.String())
}
