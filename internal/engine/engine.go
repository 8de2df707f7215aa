// internal/engine/engine.go

// Package engine drives pipeline executions: data preparation, model
// selection, per-model training and evaluation. Each execution owns its Job
// record and writes it to the store after every change; readers only ever see
// the store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/ml-orchestrator/internal/poller"
	"github.com/tendant/ml-orchestrator/internal/stages"
	"github.com/tendant/ml-orchestrator/internal/store"
	"github.com/tendant/ml-orchestrator/pkg/schema"
)

// DefaultMaxSelectedModels caps how many selector candidates are trained.
const DefaultMaxSelectedModels = 3

// Services is the subset of the downstream clients the engine calls.
type Services interface {
	PrepareData(ctx context.Context, path, datasetID string, cfg schema.PipelineConfig) (*stages.PrepareResult, error)
	SelectModels(ctx context.Context, req stages.SelectRequest) (*stages.SelectResult, error)
	SubmitTraining(ctx context.Context, req stages.TrainRequest) (*stages.TrainSubmission, error)
	TrainingStatusURL(jobID string) string
	Evaluate(ctx context.Context, req stages.EvaluateRequest) (*stages.EvaluateResult, error)
}

// Publisher receives lifecycle and completion events. *bus.Client satisfies it.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

type Options struct {
	Store    store.Store
	Services Services
	Poller   *poller.Poller

	// Publisher is optional; events go to EventsSubject+".lifecycle" and
	// EventsSubject+".done".
	Publisher     Publisher
	EventsSubject string

	MaxSelectedModels int
	Metrics           *Metrics
	Logger            *slog.Logger

	NewID func() string
	Now   func() time.Time
}

type Engine struct {
	store     store.Store
	services  Services
	poller    *poller.Poller
	publisher Publisher
	subject   string
	maxModels int
	metrics   *Metrics
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time

	wg sync.WaitGroup
}

func New(opts Options) (*Engine, error) {
	if opts.Services == nil {
		return nil, errors.New("engine: services are required")
	}
	e := &Engine{
		store:     opts.Store,
		services:  opts.Services,
		poller:    opts.Poller,
		publisher: opts.Publisher,
		subject:   opts.EventsSubject,
		maxModels: opts.MaxSelectedModels,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		newID:     opts.NewID,
		now:       opts.Now,
	}
	if e.store == nil {
		e.store = store.Disabled{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.poller == nil {
		e.poller = poller.New(nil, 0, 0, e.logger)
	}
	if e.maxModels <= 0 {
		e.maxModels = DefaultMaxSelectedModels
	}
	if e.subject == "" {
		e.subject = "pipeline.events"
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.New().String() }
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Start validates def, records a running Job and launches the execution in
// the background. It returns as soon as the initial record is written; the
// run is detached from ctx's cancellation.
func (e *Engine) Start(ctx context.Context, def schema.Definition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	id := e.newID()
	job := schema.NewJob(id, def, e.now().UTC())
	x := e.newExecution(job)

	x.rec.logf(ctx, "Pipeline execution %s started for dataset %s", id, def.DatasetPath)
	indexCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	err := e.store.IndexAdd(indexCtx, id)
	cancel()
	if err != nil {
		x.logger.Warn("index execution failed", "err", err)
	}
	e.metrics.started()

	runCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		x.run(runCtx)
	}()
	return id, nil
}

// Status returns the last persisted state of an execution. Store failures
// are reported as store.ErrNotFound.
func (e *Engine) Status(ctx context.Context, id string) (*schema.Job, error) {
	job, err := e.store.Get(ctx, id)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("read execution failed", "execution_id", id, "err", err)
	}
	return nil, fmt.Errorf("execution %s: %w", id, store.ErrNotFound)
}

// List returns summaries of every known execution, newest first. An
// unreachable store yields an empty list.
func (e *Engine) List(ctx context.Context) []schema.ExecutionSummary {
	summaries, err := store.History(ctx, e.store, e.logger)
	if err != nil {
		e.logger.Warn("list executions failed", "err", err)
		return []schema.ExecutionSummary{}
	}
	return summaries
}

// Wait blocks until every started execution has finished or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
