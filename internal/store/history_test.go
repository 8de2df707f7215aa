package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/ml-orchestrator/pkg/schema"
)

type brokenIndex struct{ Disabled }

func (brokenIndex) IndexMembers(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestHistorySortsNewestFirstAndSkipsExpired(t *testing.T) {
	s := NewMemory(time.Hour)
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	base := clock
	for i, id := range []string{"old", "mid", "new"} {
		job := sampleJob(id, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Put(ctx, job))
		require.NoError(t, s.IndexAdd(ctx, id))
	}
	// indexed but never persisted
	require.NoError(t, s.IndexAdd(ctx, "ghost"))

	summaries, err := History(ctx, s, nil)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, "new", summaries[0].ID)
	assert.Equal(t, "mid", summaries[1].ID)
	assert.Equal(t, "old", summaries[2].ID)

	clock = clock.Add(2 * time.Hour)
	summaries, err = History(ctx, s, nil)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestHistorySummaryFields(t *testing.T) {
	s := NewMemory(time.Hour)
	ctx := context.Background()

	job := sampleJob("a", time.Now())
	job.Artifacts.DatasetID = "dataset_1"
	job.Artifacts.SelectedModels = []string{"rf", "svm", "knn"}
	job.Fail(errors.New("prepare failed"), time.Now())
	require.NoError(t, s.Put(ctx, job))
	require.NoError(t, s.IndexAdd(ctx, "a"))

	summaries, err := History(ctx, s, nil)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	sum := summaries[0]
	assert.Equal(t, "dataset_1", sum.DatasetID)
	assert.Equal(t, schema.JobStatusFailed, sum.Status)
	assert.Equal(t, "prepare failed", sum.Error)
	assert.Equal(t, 3, sum.ModelCount)
	assert.NotNil(t, sum.EndTime)
}

func TestHistoryIndexError(t *testing.T) {
	_, err := History(context.Background(), brokenIndex{}, nil)
	assert.Error(t, err)
}
