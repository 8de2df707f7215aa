package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/ml-orchestrator/internal/store"
	"github.com/tendant/ml-orchestrator/pkg/schema"
)

type fakeExecutor struct {
	started  []schema.Definition
	startErr error
	jobs     map[string]*schema.Job
	statusFn func(id string) error
}

func (f *fakeExecutor) Start(_ context.Context, def schema.Definition) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	if err := def.Validate(); err != nil {
		return "", err
	}
	f.started = append(f.started, def)
	return fmt.Sprintf("exec-%d", len(f.started)), nil
}

func (f *fakeExecutor) Status(_ context.Context, id string) (*schema.Job, error) {
	if f.statusFn != nil {
		if err := f.statusFn(id); err != nil {
			return nil, err
		}
	}
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeExecutor) List(context.Context) []schema.ExecutionSummary {
	out := []schema.ExecutionSummary{}
	for _, j := range f.jobs {
		out = append(out, j.Summary())
	}
	return out
}

func newTestServer(t *testing.T, exec Executor, gatherer prometheus.Gatherer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(exec, gatherer, nil).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, &fakeExecutor{}, nil)
	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"service": "Orchestrator", "status": "active"}, decode[map[string]string](t, resp))
}

func TestExecuteAcceptsJSONAndYAML(t *testing.T) {
	exec := &fakeExecutor{}
	srv := newTestServer(t, exec, nil)

	resp, err := http.Post(srv.URL+"/pipeline/execute", "application/json",
		strings.NewReader(`{"dataset_path":"uploads/d.csv","target_column":"label","models":["svm"]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[schema.ExecuteAccepted](t, resp)
	assert.Equal(t, schema.ExecuteAccepted{ExecutionID: "exec-1", Status: "started", Message: "Pipeline execution started"}, got)

	resp, err = http.Post(srv.URL+"/pipeline/execute", "application/yaml",
		strings.NewReader("dataset_path: uploads/e.csv\ntarget_column: price\ntask_type: regression\n"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "exec-2", decode[schema.ExecuteAccepted](t, resp).ExecutionID)

	require.Len(t, exec.started, 2)
	assert.Equal(t, []string{"svm"}, exec.started[0].Models)
	assert.Equal(t, "regression", exec.started[1].TaskType)
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		status   int
		msg      string
	}{
		{"empty body", "", nil, http.StatusBadRequest, "Pipeline definition required"},
		{"malformed", `{"dataset_path":`, nil, http.StatusBadRequest, "Invalid pipeline definition"},
		{"not an object", `["a"]`, nil, http.StatusBadRequest, "Invalid pipeline definition"},
		{"missing fields", `{"dataset_path":"d.csv"}`, nil, http.StatusBadRequest, "Invalid pipeline definition"},
		{"start failure", `{"dataset_path":"d.csv","target_column":"y"}`, errors.New("boom"), http.StatusInternalServerError, "Failed to start pipeline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeExecutor{startErr: tt.startErr}, nil)
			resp, err := http.Post(srv.URL+"/pipeline/execute", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.msg, decode[schema.ErrorResponse](t, resp).Error)
		})
	}
}

func TestStatus(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	job := schema.NewJob("exec-1", schema.Definition{DatasetPath: "d.csv", TargetColumn: "y"}, start)
	exec := &fakeExecutor{jobs: map[string]*schema.Job{"exec-1": job}}
	srv := newTestServer(t, exec, nil)

	resp, err := http.Get(srv.URL + "/status/exec-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "exec-1", body["id"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "2024-01-02T03:04:05Z", body["startTime"])
	assert.Equal(t, []any{}, body["steps"])
	assert.NotContains(t, body, "endTime")

	resp, err = http.Get(srv.URL + "/status/unknown")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Execution ID not found", decode[schema.ErrorResponse](t, resp).Error)
}

func TestStatusStoreFailureIsNotFound(t *testing.T) {
	exec := &fakeExecutor{statusFn: func(string) error { return errors.New("redis down") }}
	srv := newTestServer(t, exec, nil)

	resp, err := http.Get(srv.URL + "/status/exec-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestExecutions(t *testing.T) {
	srv := newTestServer(t, &fakeExecutor{}, nil)
	resp, err := http.Get(srv.URL + "/executions")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.JSONEq(t, `[]`, string(raw))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := newTestServer(t, &fakeExecutor{}, reg)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "pipeline_test_total 1")

	noMetrics := newTestServer(t, &fakeExecutor{}, nil)
	resp, err = http.Get(noMetrics.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
