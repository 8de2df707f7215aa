package schema

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobStartsRunningWithEmptyTrail(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := NewJob("exec-1", Definition{DatasetPath: "d.csv", TargetColumn: "y"}, now)

	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, now, job.StartTime)
	assert.Nil(t, job.EndTime)
	assert.Empty(t, job.Steps)
	assert.Empty(t, job.Logs)

	raw, err := json.Marshal(job)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, []any{}, doc["steps"])
	assert.Equal(t, []any{}, doc["logs"])
	assert.NotContains(t, doc, "endTime")
	assert.NotContains(t, doc["artifacts"], "training_results")
}

func TestTerminalTransitionsAreFinal(t *testing.T) {
	now := time.Now()
	job := NewJob("exec-2", Definition{}, now)

	require.True(t, job.Fail(errors.New("prepare: boom"), now))
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "prepare: boom", job.Error)
	require.NotNil(t, job.EndTime)

	assert.False(t, job.Complete(now.Add(time.Second)))
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.False(t, job.Fail(errors.New("again"), now))
	assert.Equal(t, "prepare: boom", job.Error)
}

func TestTrainingResultEvaluable(t *testing.T) {
	tests := []struct {
		name   string
		result TrainingResult
		want   bool
	}{
		{"completed with path", TrainingResult{Status: "completed", ModelPath: "models/rf.pkl"}, true},
		{"completed without path", TrainingResult{Status: "completed"}, false},
		{"failed with path", TrainingResult{Status: "failed", ModelPath: "models/rf.pkl"}, false},
		{"timeout", TrainingResult{Status: "unknown"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Evaluable())
		})
	}
}

func TestHyperparametersFor(t *testing.T) {
	cfg := PipelineConfig{Hyperparameters: map[string]any{
		"random_forest": map[string]any{"n_estimators": 200},
		"max_iter":      100,
	}}

	assert.Equal(t, map[string]any{"n_estimators": 200}, cfg.HyperparametersFor("random_forest"))
	assert.Equal(t, map[string]any{"max_iter": 100}, cfg.HyperparametersFor("logistic_regression"))
	assert.Nil(t, PipelineConfig{}.HyperparametersFor("svm"))
}

func TestSummaryPrefersPreparedDatasetID(t *testing.T) {
	job := NewJob("exec-3", Definition{DatasetID: "requested"}, time.Now())
	assert.Equal(t, "requested", job.Summary().DatasetID)

	job.Artifacts.DatasetID = "dataset_42"
	job.Artifacts.SelectedModels = []string{"a", "b"}
	sum := job.Summary()
	assert.Equal(t, "dataset_42", sum.DatasetID)
	assert.Equal(t, 2, sum.ModelCount)
}

func TestHasPreprocessing(t *testing.T) {
	assert.False(t, PipelineConfig{}.HasPreprocessing())
	assert.False(t, PipelineConfig{Preprocessing: json.RawMessage(" null ")}.HasPreprocessing())
	assert.True(t, PipelineConfig{Preprocessing: json.RawMessage("true")}.HasPreprocessing())
}
