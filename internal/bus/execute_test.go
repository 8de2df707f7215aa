package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/ml-orchestrator/pkg/schema"
)

type fakeStarter struct {
	got schema.Definition
	err error
}

func (f *fakeStarter) Start(_ context.Context, def schema.Definition) (string, error) {
	f.got = def
	if f.err != nil {
		return "", f.err
	}
	if err := def.Validate(); err != nil {
		return "", err
	}
	return "exec-1", nil
}

func TestExecuteHandlerAcceptsJSON(t *testing.T) {
	s := &fakeStarter{}
	reply := ExecuteHandler(s, nil)(context.Background(), []byte(`{
		"dataset_path": "uploads/d.csv",
		"target_column": "label",
		"models": ["random_forest"],
		"config": {"hyperparameters": {"max_depth": 4}}
	}`))

	var got schema.ExecuteAccepted
	require.NoError(t, json.Unmarshal(reply, &got))
	assert.Equal(t, schema.ExecuteAccepted{ExecutionID: "exec-1", Status: "started", Message: "Pipeline execution started"}, got)
	assert.Equal(t, []string{"random_forest"}, s.got.Models)
	assert.Equal(t, 4.0, s.got.Config.Hyperparameters["max_depth"])
}

func TestExecuteHandlerAcceptsYAML(t *testing.T) {
	s := &fakeStarter{}
	reply := ExecuteHandler(s, nil)(context.Background(), []byte("dataset_path: uploads/d.csv\ntarget_column: label\ntask_type: regression\n"))

	var got schema.ExecuteAccepted
	require.NoError(t, json.Unmarshal(reply, &got))
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, "regression", s.got.TaskType)
}

func TestExecuteHandlerRejects(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		wantMsg string
	}{
		{"malformed", `{"dataset_path": `, nil, "Invalid pipeline definition"},
		{"missing target", `{"dataset_path": "d.csv"}`, nil, "Invalid pipeline definition"},
		{"start failure", `{"dataset_path": "d.csv", "target_column": "y"}`, errors.New("boom"), "Failed to start pipeline"},
		{"wrapped invalid", `{"dataset_path": "d.csv", "target_column": "y"}`, fmt.Errorf("%w: nope", schema.ErrInvalidDefinition), "Invalid pipeline definition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := ExecuteHandler(&fakeStarter{err: tt.err}, nil)(context.Background(), []byte(tt.body))
			var got schema.ErrorResponse
			require.NoError(t, json.Unmarshal(reply, &got))
			assert.Equal(t, tt.wantMsg, got.Error)
			assert.NotEmpty(t, got.Details)
		})
	}
}

func TestConnectFailsWithoutServer(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", nil)
	assert.Error(t, err)
}
