package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/guildhall/guildhall/internal/jobs"
	"github.com/guildhall/guildhall/internal/roles"
)

type stubVerifier struct {
	changes []roles.Change
	err     error
	calls   int
}

func (s *stubVerifier) VerifyOrdering(context.Context) ([]roles.Change, error) {
	s.calls++
	return s.changes, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewVerifyOrderingTask(t *testing.T) {
	task, err := NewVerifyOrderingTask("")
	require.NoError(t, err)
	assert.Equal(t, TaskRolesVerifyOrdering, task.Type())

	var payload VerifyOrderingPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "cron", payload.Trigger)
}

func TestVerifyOrderingJobHandle(t *testing.T) {
	verifier := &stubVerifier{changes: []roles.Change{{RoleID: 1, From: 3, To: 2}}}
	job := NewVerifyOrderingJob(verifier, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewVerifyOrderingTask("manual")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, verifier.calls)

	verifier.err = errors.New("db down")
	assert.ErrorContains(t, job.Handle(context.Background(), task), "db down")
}

func TestVerifyOrderingJobRejectsBadPayload(t *testing.T) {
	job := NewVerifyOrderingJob(&stubVerifier{}, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), asynq.NewTask(TaskRolesVerifyOrdering, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var unconfigured *VerifyOrderingJob
	assert.Error(t, unconfigured.Handle(context.Background(), asynq.NewTask(TaskRolesVerifyOrdering, nil)))
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

type stubEnqueuer struct {
	triggers []string
}

func (s *stubEnqueuer) EnqueueVerifyOrdering(_ context.Context, trigger string) (*asynq.TaskInfo, error) {
	s.triggers = append(s.triggers, trigger)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func serveJobs(h *Handler, method, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandlerHealth(t *testing.T) {
	rec := serveJobs(NewHandler(nil, nil, discardLogger()), http.MethodGet, "/jobs/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0,"failed":0}`, rec.Body.String())

	inspector := stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Failed: 1}}
	rec = serveJobs(NewHandler(inspector, nil, discardLogger()), http.MethodGet, "/jobs/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var out queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 3, out.Pending)
	assert.Equal(t, 1, out.Failed)

	rec = serveJobs(NewHandler(stubInspector{err: errors.New("redis gone")}, nil, discardLogger()), http.MethodGet, "/jobs/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerTriggerVerifyOrdering(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	rec := serveJobs(NewHandler(nil, enqueuer, discardLogger()), http.MethodPost, "/jobs/verify-ordering")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"manual"}, enqueuer.triggers)
	assert.JSONEq(t, `{"task_id":"task-1","queue":"default"}`, rec.Body.String())

	rec = serveJobs(NewHandler(nil, nil, discardLogger()), http.MethodPost, "/jobs/verify-ordering")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
