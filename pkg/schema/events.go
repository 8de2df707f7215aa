// pkg/schema/events.go
package schema

type FailureType string

const (
	FailureTypeStageCall   FailureType = "stage_call"
	FailureTypePollTimeout FailureType = "poll_timeout"
	FailureTypeInternal    FailureType = "internal"
)

// PipelineLifecycleEvent is published for every step appended to a Job.
type PipelineLifecycleEvent struct {
	ExecutionID string     `json:"execution_id"`
	Step        string     `json:"step"`
	Status      StepStatus `json:"status"`
	JobStatus   JobStatus  `json:"job_status"`
	HappenedAt  int64      `json:"happened_at"`
}

// PipelineDone is published once when a Job reaches a terminal status.
type PipelineDone struct {
	ExecutionID       string             `json:"execution_id"`
	DatasetID         string             `json:"dataset_id,omitempty"`
	Status            JobStatus          `json:"status"`
	ProcessingStart   int64              `json:"processing_start"`
	ProcessingEnd     int64              `json:"processing_end"`
	ProcessingTimeMs  int64              `json:"processing_time_ms"`
	TotalTrained      int                `json:"total_trained"`
	TotalFailed       int                `json:"total_failed"`
	TotalEvaluated    int                `json:"total_evaluated"`
	EvaluationResults []EvaluationResult `json:"evaluation_results,omitempty"`
	Error             string             `json:"error,omitempty"`
	FailureType       FailureType        `json:"failure_type,omitempty"`
	HappenedAt        int64              `json:"happened_at"`
}

// ExecuteAccepted is the reply to a pipeline execute request.
type ExecuteAccepted struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

// ErrorResponse is the reply body for rejected requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
