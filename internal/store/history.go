package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/tendant/ml-orchestrator/pkg/schema"
)

// History loads every indexed execution and returns their summaries, newest
// first. Ids whose record expired or cannot be read are skipped.
func History(ctx context.Context, s Store, logger *slog.Logger) ([]schema.ExecutionSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ids, err := s.IndexMembers(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]schema.ExecutionSummary, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				logger.Warn("skip unreadable execution", "execution_id", id, "err", err)
			}
			continue
		}
		summaries = append(summaries, job.Summary())
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].StartTime.Equal(summaries[j].StartTime) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	return summaries, nil
}
