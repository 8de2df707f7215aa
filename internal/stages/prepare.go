package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tendant/ml-orchestrator/pkg/schema"
)

type PreprocessingStep struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy,omitempty"`
	Method   string `json:"method,omitempty"`
	Columns  any    `json:"columns,omitempty"`
}

type Preprocessing struct {
	Steps []PreprocessingStep `json:"steps"`
}

// DefaultPreprocessing is sent when the caller did not spell out any steps:
// mean imputation, standard scaling, then one-hot encoding of auto-detected
// columns.
func DefaultPreprocessing() Preprocessing {
	return Preprocessing{Steps: []PreprocessingStep{
		{Name: "imputation", Strategy: "mean"},
		{Name: "scaling", Method: "standard"},
		{Name: "one_hot_encoding", Columns: "auto"},
	}}
}

// PreprocessingPayload returns the "pipeline" value for a prepare request.
// An object carrying a non-empty "steps" list is forwarded verbatim; absent,
// boolean and step-less values are replaced by DefaultPreprocessing.
func PreprocessingPayload(cfg schema.PipelineConfig) any {
	if !cfg.HasPreprocessing() {
		return DefaultPreprocessing()
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(cfg.Preprocessing, &obj); err != nil {
		return DefaultPreprocessing()
	}
	var steps []json.RawMessage
	if raw, ok := obj["steps"]; !ok || json.Unmarshal(raw, &steps) != nil || len(steps) == 0 {
		return DefaultPreprocessing()
	}
	return cfg.Preprocessing
}

type PrepareRequest struct {
	FilePath  string `json:"file_path"`
	Pipeline  any    `json:"pipeline"`
	DatasetID string `json:"dataset_id,omitempty"`
}

type PrepareResult struct {
	Status             string         `json:"status,omitempty"`
	DatasetID          string         `json:"dataset_id"`
	CleanedDatasetPath string         `json:"cleaned_dataset_path"`
	TableName          string         `json:"table_name,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// PrepareData asks the data preparer to clean the dataset at path.
func (c *Client) PrepareData(ctx context.Context, path, datasetID string, cfg schema.PipelineConfig) (*PrepareResult, error) {
	url := joinURL(c.endpoints.DataPreparer, "/prepare")
	res, err := postJSON[PrepareResult](ctx, c, ServiceDataPreparer, url, PrepareRequest{
		FilePath:  path,
		Pipeline:  PreprocessingPayload(cfg),
		DatasetID: datasetID,
	})
	if err != nil {
		return nil, err
	}
	if res.CleanedDatasetPath == "" {
		return nil, &StageError{Service: ServiceDataPreparer, Op: "POST " + url, Err: fmt.Errorf("response has no cleaned_dataset_path")}
	}
	return res, nil
}
