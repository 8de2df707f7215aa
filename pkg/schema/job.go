package schema

import (
	"bytes"
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
)

// Stage names as they appear in Job.Steps.
const (
	StageDataPreparation = "DataPreparation"
	StageModelSelection  = "ModelSelection"
	StageTraining        = "Training"
	StageEvaluation      = "Evaluation"
)

// Definition is the pipeline request submitted by a caller. It is never
// mutated once a Job has been created from it.
type Definition struct {
	DatasetPath  string         `json:"dataset_path"`
	DatasetID    string         `json:"dataset_id,omitempty"`
	TargetColumn string         `json:"target_column"`
	TaskType     string         `json:"task_type,omitempty"`
	Models       []string       `json:"models,omitempty"`
	Config       PipelineConfig `json:"config"`
}

// PipelineConfig carries optional knobs for the downstream services.
//
// Preprocessing is kept raw because callers send either a boolean toggle or
// an object with an explicit "steps" list.
type PipelineConfig struct {
	Preprocessing   json.RawMessage `json:"preprocessing,omitempty"`
	Hyperparameters map[string]any  `json:"hyperparameters,omitempty"`
	HyperOpt        bool            `json:"hyperopt,omitempty"`
	CrossValidation bool            `json:"crossValidation,omitempty"`
}

// HasPreprocessing reports whether the caller supplied any preprocessing value.
func (c PipelineConfig) HasPreprocessing() bool {
	raw := bytes.TrimSpace(c.Preprocessing)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// HyperparametersFor returns the hyperparameters sent with model's training
// request. An object keyed by the model name wins; otherwise the scalar
// entries of the map are shared by every model.
func (c PipelineConfig) HyperparametersFor(model string) map[string]any {
	if len(c.Hyperparameters) == 0 {
		return nil
	}
	if own, ok := c.Hyperparameters[model].(map[string]any); ok {
		return own
	}
	shared := make(map[string]any, len(c.Hyperparameters))
	for k, v := range c.Hyperparameters {
		if _, nested := v.(map[string]any); nested {
			continue
		}
		shared[k] = v
	}
	if len(shared) == 0 {
		return nil
	}
	return shared
}

type Step struct {
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

type TrainingResult struct {
	ModelName string         `json:"model_name"`
	JobID     string         `json:"job_id,omitempty"`
	Status    string         `json:"status"`
	ModelPath string         `json:"model_path,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Evaluable reports whether the trained model can be handed to the evaluator.
func (r TrainingResult) Evaluable() bool {
	return r.Status == string(JobStatusCompleted) && r.ModelPath != ""
}

type EvaluationResult struct {
	ModelName string         `json:"model_name"`
	ModelPath string         `json:"model_path,omitempty"`
	Metrics   map[string]any `json:"metrics"`
}

// Artifacts holds stage-produced values. Each field is written only by the
// stage that owns it.
type Artifacts struct {
	DatasetID          string             `json:"dataset_id,omitempty"`
	CleanedDatasetPath string             `json:"cleaned_dataset_path,omitempty"`
	SelectedModels     []string           `json:"selected_models,omitempty"`
	TrainingResults    []TrainingResult   `json:"training_results,omitempty"`
	EvaluationResults  []EvaluationResult `json:"evaluation_results,omitempty"`
}

// Job is the persisted record of one pipeline execution.
type Job struct {
	ID         string     `json:"id"`
	Definition Definition `json:"definition"`
	Status     JobStatus  `json:"status"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Steps      []Step     `json:"steps"`
	Logs       []string   `json:"logs"`
	Artifacts  Artifacts  `json:"artifacts"`
	Error      string     `json:"error,omitempty"`
}

func NewJob(id string, def Definition, now time.Time) *Job {
	return &Job{
		ID:         id,
		Definition: def,
		Status:     JobStatusRunning,
		StartTime:  now,
		Steps:      []Step{},
		Logs:       []string{},
	}
}

// Complete moves a running job to completed. It returns false if the job
// already reached a terminal state.
func (j *Job) Complete(now time.Time) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = JobStatusCompleted
	j.EndTime = &now
	return true
}

// Fail moves a running job to failed and records the cause.
func (j *Job) Fail(err error, now time.Time) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = JobStatusFailed
	j.EndTime = &now
	if err != nil {
		j.Error = err.Error()
	}
	return true
}

// ExecutionSummary is the lightweight listing view of a Job.
type ExecutionSummary struct {
	ID         string     `json:"id"`
	DatasetID  string     `json:"dataset_id,omitempty"`
	Status     JobStatus  `json:"status"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Error      string     `json:"error,omitempty"`
	ModelCount int        `json:"model_count"`
}

func (j *Job) Summary() ExecutionSummary {
	datasetID := j.Artifacts.DatasetID
	if datasetID == "" {
		datasetID = j.Definition.DatasetID
	}
	return ExecutionSummary{
		ID:         j.ID,
		DatasetID:  datasetID,
		Status:     j.Status,
		StartTime:  j.StartTime,
		EndTime:    j.EndTime,
		Error:      j.Error,
		ModelCount: len(j.Artifacts.SelectedModels),
	}
}
