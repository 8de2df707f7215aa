package stages

import (
	"context"
	"strings"
)

type SelectRequest struct {
	DatasetID    string `json:"dataset_id"`
	DatasetPath  string `json:"dataset_path"`
	TargetColumn string `json:"target_column,omitempty"`
	TaskType     string `json:"task_type,omitempty"`
}

// SelectedModel is one candidate returned by the selector. Older selector
// versions name the field "model_name".
type SelectedModel struct {
	Name      string `json:"name,omitempty"`
	ModelName string `json:"model_name,omitempty"`
}

func (m SelectedModel) DisplayName() string {
	if n := strings.TrimSpace(m.Name); n != "" {
		return n
	}
	return strings.TrimSpace(m.ModelName)
}

type SelectResult struct {
	DatasetID      string          `json:"dataset_id,omitempty"`
	TaskType       string          `json:"task_type,omitempty"`
	Metric         string          `json:"metric,omitempty"`
	SelectedModels []SelectedModel `json:"selected_models"`
}

// Names returns the selected model names in ranking order, dropping entries
// without a usable name.
func (r *SelectResult) Names() []string {
	names := make([]string, 0, len(r.SelectedModels))
	for _, m := range r.SelectedModels {
		if n := m.DisplayName(); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// SelectModels asks the model selector for candidates suited to the dataset.
func (c *Client) SelectModels(ctx context.Context, req SelectRequest) (*SelectResult, error) {
	return postJSON[SelectResult](ctx, c, ServiceModelSelector, joinURL(c.endpoints.ModelSelector, "/select"), req)
}
