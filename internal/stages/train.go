package stages

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

type TrainRequest struct {
	ModelName       string         `json:"model_name"`
	DatasetPath     string         `json:"dataset_path"`
	TargetColumn    string         `json:"target_column"`
	Hyperparameters map[string]any `json:"hyperparameters,omitempty"`
}

type TrainSubmission struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// TrainingStatus is the body of GET /train/{job_id}.
type TrainingStatus struct {
	JobID     string         `json:"job_id"`
	Status    string         `json:"status"`
	ModelPath string         `json:"model_path,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Finished is the completion predicate for training polls: the remote job
// either completed or failed.
func (s TrainingStatus) Finished() bool {
	switch strings.ToLower(s.Status) {
	case "completed", "failed":
		return true
	}
	return false
}

// SubmitTraining starts a remote training job. Completion is only observable
// by polling TrainingStatusURL.
func (c *Client) SubmitTraining(ctx context.Context, req TrainRequest) (*TrainSubmission, error) {
	u := joinURL(c.endpoints.Trainer, "/train")
	sub, err := postJSON[TrainSubmission](ctx, c, ServiceTrainer, u, req)
	if err != nil {
		return nil, err
	}
	if sub.JobID == "" {
		return nil, &StageError{Service: ServiceTrainer, Op: "POST " + u, Err: fmt.Errorf("response has no job_id")}
	}
	return sub, nil
}

func (c *Client) TrainingStatusURL(jobID string) string {
	return joinURL(c.endpoints.Trainer, "/train/"+url.PathEscape(jobID))
}
