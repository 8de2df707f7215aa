package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/tendant/ml-orchestrator/pkg/schema"
)

// Starter launches a pipeline execution. *engine.Engine satisfies it.
type Starter interface {
	Start(ctx context.Context, def schema.Definition) (string, error)
}

// ExecuteHandler accepts pipeline definitions (JSON or YAML) from the bus and
// replies with an ExecuteAccepted or an ErrorResponse.
func ExecuteHandler(s Starter, logger *slog.Logger) RequestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, data []byte) []byte {
		def, err := schema.ParseDefinition(data)
		if err != nil {
			logger.Warn("rejecting execute request", "err", err)
			return mustJSON(schema.ErrorResponse{Error: "Invalid pipeline definition", Details: err.Error()})
		}
		id, err := s.Start(ctx, def)
		if err != nil {
			logger.Warn("execute request failed", "err", err)
			msg := "Failed to start pipeline"
			if errors.Is(err, schema.ErrInvalidDefinition) {
				msg = "Invalid pipeline definition"
			}
			return mustJSON(schema.ErrorResponse{Error: msg, Details: err.Error()})
		}
		logger.Info("pipeline execution accepted", "execution_id", id, "source", "nats")
		return mustJSON(schema.ExecuteAccepted{
			ExecutionID: id,
			Status:      "started",
			Message:     "Pipeline execution started",
		})
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
