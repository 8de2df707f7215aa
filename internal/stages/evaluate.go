package stages

import "context"

type EvaluateRequest struct {
	ModelPath    string `json:"model_path"`
	DatasetPath  string `json:"dataset_path"`
	TargetColumn string `json:"target_column"`
}

type EvaluateResult struct {
	ModelName string         `json:"model_name"`
	Metrics   map[string]any `json:"metrics"`
}

// Evaluate scores a trained model against the prepared dataset.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResult, error) {
	return postJSON[EvaluateResult](ctx, c, ServiceEvaluator, joinURL(c.endpoints.Evaluator, "/evaluate"), req)
}
