package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/okash/okash-console/internal/jobs"
	"github.com/okash/okash-console/internal/reporting"
)

type stubRefresher struct {
	calls int
	err   error
}

func (s *stubRefresher) Refresh(context.Context) (reporting.LedgerSummary, error) {
	s.calls++
	return reporting.LedgerSummary{TotalBalance: 42}, s.err
}

type stubChecker struct {
	mismatches []reporting.Mismatch
	err        error
}

func (s stubChecker) CheckIntegrity(context.Context) ([]reporting.Mismatch, error) {
	return s.mismatches, s.err
}

type stubCleaner struct {
	olderThan time.Duration
	removed   int64
}

func (s *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	return s.removed, nil
}

func newMetrics(t *testing.T) (*jobmetrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return jobmetrics.NewMetrics(reg), reg
}

func TestSummaryRefreshJobTracksOutcome(t *testing.T) {
	metrics, reg := newMetrics(t)
	refresher := &stubRefresher{}
	job := NewSummaryRefreshJob(refresher, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), NewSummaryRefreshTask()))
	refresher.err = errors.New("redis down")
	require.Error(t, job.Handle(context.Background(), NewSummaryRefreshTask()))
	require.Equal(t, 2, refresher.calls)

	count, err := testutil.GatherAndCount(reg, "okash_jobs_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	count, err = testutil.GatherAndCount(reg, "okash_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestIntegrityCheckReportsMismatches(t *testing.T) {
	metrics, reg := newMetrics(t)
	checker := stubChecker{mismatches: []reporting.Mismatch{
		{AccountID: uuid.New(), AccountNumber: "1200000001", Balance: 500, Expected: 400},
		{AccountID: uuid.New(), AccountNumber: "1300000002", Balance: 0, Expected: 10},
	}}
	job := NewIntegrityCheckJob(checker, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), NewIntegrityCheckTask()))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[f.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil && len(m.GetLabel()) == 0:
				values[f.GetName()] = m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(2), values["okash_ledger_mismatched_accounts"])
	require.Equal(t, float64(2), values["okash_ledger_integrity_mismatches_total"])
}

func TestIntegrityCheckFailure(t *testing.T) {
	job := NewIntegrityCheckJob(stubChecker{err: errors.New("db down")}, nil, nil)
	require.Error(t, job.Handle(context.Background(), NewIntegrityCheckTask()))

	var unset *IntegrityCheckJob
	require.Error(t, unset.Handle(context.Background(), NewIntegrityCheckTask()))
}

func TestIdempotencyCleanupUsesPayloadRetention(t *testing.T) {
	metrics, _ := newMetrics(t)
	cleaner := &stubCleaner{removed: 7}
	job := NewIdempotencyCleanupJob(cleaner, nil, metrics)

	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, cleaner.olderThan)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, 24*time.Hour, cleaner.olderThan)

	err = job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

type stubEnqueuer struct{ err error }

func (s stubEnqueuer) EnqueueSummaryRefresh(context.Context) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{ID: "task-1", Type: TaskLedgerSummaryRefresh}, nil
}

func serveJobs(h *Handler, method, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/jobs", func(r chi.Router) {
		h.MountRoutes(r)
		h.MountAdminRoutes(r)
	})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestJobsHealth(t *testing.T) {
	rr := serveJobs(NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, nil, nil), http.MethodGet, "/jobs/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var health queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	require.Equal(t, 3, health.Pending)

	rr = serveJobs(NewHandler(stubInspector{err: errors.New("redis down")}, nil, nil), http.MethodGet, "/jobs/health")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serveJobs(NewHandler(nil, nil, nil), http.MethodGet, "/jobs/health")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestSummaryRefreshEndpoint(t *testing.T) {
	rr := serveJobs(NewHandler(nil, stubEnqueuer{}, nil), http.MethodPost, "/jobs/summary-refresh")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Contains(t, rr.Body.String(), "task-1")

	rr = serveJobs(NewHandler(nil, stubEnqueuer{err: asynq.ErrDuplicateTask}, nil), http.MethodPost, "/jobs/summary-refresh")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Contains(t, rr.Body.String(), "already_queued")

	rr = serveJobs(NewHandler(nil, nil, nil), http.MethodPost, "/jobs/summary-refresh")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
