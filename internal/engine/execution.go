package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/ml-orchestrator/internal/poller"
	"github.com/tendant/ml-orchestrator/internal/stages"
	"github.com/tendant/ml-orchestrator/internal/store"
	"github.com/tendant/ml-orchestrator/pkg/schema"
)

// persistTimeout bounds a single store write. After a failed write the
// recorder skips intermediate writes for persistCooldown; the terminal write
// is always attempted.
const (
	persistTimeout  = 500 * time.Millisecond
	persistCooldown = 5 * time.Second
)

// execution is the single writer of one Job.
type execution struct {
	job       *schema.Job
	rec       *recorder
	services  Services
	poller    *poller.Poller
	maxModels int
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func (e *Engine) newExecution(job *schema.Job) *execution {
	logger := e.logger.With("execution_id", job.ID)
	return &execution{
		job: job,
		rec: &recorder{
			job:       job,
			store:     e.store,
			publisher: e.publisher,
			subject:   e.subject,
			logger:    logger,
			now:       e.now,
		},
		services:  e.services,
		poller:    e.poller,
		maxModels: e.maxModels,
		metrics:   e.metrics,
		logger:    logger,
		now:       e.now,
	}
}

func (x *execution) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("execution panicked", "panic", r)
			x.finish(ctx, fmt.Errorf("internal error: %v", r))
		}
	}()
	x.finish(ctx, x.stages(ctx))
}

func (x *execution) stages(ctx context.Context) error {
	if err := x.stage(ctx, schema.StageDataPreparation, x.prepare); err != nil {
		return err
	}
	if err := x.stage(ctx, schema.StageModelSelection, x.selectModels); err != nil {
		return err
	}
	if err := x.stage(ctx, schema.StageTraining, x.train); err != nil {
		return err
	}
	return x.stage(ctx, schema.StageEvaluation, x.evaluate)
}

// stage runs fn and appends its step. A failing stage appends a failed step
// and its error aborts the run.
func (x *execution) stage(ctx context.Context, name string, fn func(context.Context) (schema.StepStatus, error)) error {
	start := time.Now()
	status, err := fn(ctx)
	x.metrics.observeStage(name, time.Since(start))
	if err != nil {
		x.rec.logf(ctx, "Step %s failed: %v", name, err)
		x.rec.step(ctx, name, schema.StepFailed)
		return err
	}
	x.rec.step(ctx, name, status)
	return nil
}

func (x *execution) prepare(ctx context.Context) (schema.StepStatus, error) {
	def := x.job.Definition
	x.rec.logf(ctx, "Preparing dataset %s", def.DatasetPath)

	res, err := x.services.PrepareData(ctx, def.DatasetPath, def.DatasetID, def.Config)
	if err != nil {
		return "", fmt.Errorf("data preparation: %w", err)
	}
	datasetID := res.DatasetID
	if datasetID == "" {
		datasetID = def.DatasetID
	}
	x.rec.update(ctx, func(j *schema.Job) {
		j.Artifacts.DatasetID = datasetID
		j.Artifacts.CleanedDatasetPath = res.CleanedDatasetPath
	})
	x.rec.logf(ctx, "Dataset prepared: id=%s cleaned_path=%s", datasetID, res.CleanedDatasetPath)
	return schema.StepCompleted, nil
}

func (x *execution) selectModels(ctx context.Context) (schema.StepStatus, error) {
	def := x.job.Definition
	if len(def.Models) > 0 {
		models := append([]string(nil), def.Models...)
		x.rec.update(ctx, func(j *schema.Job) { j.Artifacts.SelectedModels = models })
		x.rec.logf(ctx, "Model selection skipped: using %d model(s) from the definition: %s", len(models), strings.Join(models, ", "))
		return schema.StepSkipped, nil
	}

	x.rec.logf(ctx, "Selecting models for task %q", def.TaskType)
	res, err := x.services.SelectModels(ctx, stages.SelectRequest{
		DatasetID:    x.job.Artifacts.DatasetID,
		DatasetPath:  x.job.Artifacts.CleanedDatasetPath,
		TargetColumn: def.TargetColumn,
		TaskType:     def.TaskType,
	})
	if err != nil {
		return "", fmt.Errorf("model selection: %w", err)
	}
	names := res.Names()
	if len(names) > x.maxModels {
		x.rec.logf(ctx, "Selector returned %d models, keeping the top %d", len(names), x.maxModels)
		names = names[:x.maxModels]
	}
	x.rec.update(ctx, func(j *schema.Job) { j.Artifacts.SelectedModels = names })
	if len(names) == 0 {
		x.rec.logf(ctx, "Selector returned no models")
	} else {
		x.rec.logf(ctx, "Selected models: %s", strings.Join(names, ", "))
	}
	return schema.StepCompleted, nil
}

// train submits one training job per selected model, strictly one at a time.
// A remote "failed" status is recorded and the loop continues; submit errors
// and poll timeouts abort the run.
func (x *execution) train(ctx context.Context) (schema.StepStatus, error) {
	def := x.job.Definition
	models := x.job.Artifacts.SelectedModels
	completed := 0

	for _, model := range models {
		result, err := x.trainOne(ctx, model)
		x.rec.update(ctx, func(j *schema.Job) {
			j.Artifacts.TrainingResults = append(j.Artifacts.TrainingResults, result)
		})
		x.metrics.modelResult(schema.StageTraining, result.Status)
		if err != nil {
			x.rec.step(ctx, schema.StageTraining+":"+model, schema.StepFailed)
			return "", fmt.Errorf("training %s: %w", model, err)
		}

		if result.Status == string(schema.JobStatusCompleted) {
			completed++
			x.rec.logf(ctx, "Training of %s completed: model_path=%s", model, result.ModelPath)
			x.rec.step(ctx, schema.StageTraining+":"+model, schema.StepCompleted)
			continue
		}
		x.logger.Warn("model training failed", "model", model, "job_id", result.JobID, "err", result.Error)
		x.rec.logf(ctx, "Training of %s failed: %s", model, result.Error)
		x.rec.step(ctx, schema.StageTraining+":"+model, schema.StepFailed)
	}

	x.rec.logf(ctx, "Training finished: %d of %d model(s) completed (target %s)", completed, len(models), def.TargetColumn)
	return schema.StepCompleted, nil
}

func (x *execution) trainOne(ctx context.Context, model string) (schema.TrainingResult, error) {
	def := x.job.Definition
	result := schema.TrainingResult{ModelName: model}

	x.rec.logf(ctx, "Submitting training for %s", model)
	sub, err := x.services.SubmitTraining(ctx, stages.TrainRequest{
		ModelName:       model,
		DatasetPath:     x.job.Artifacts.CleanedDatasetPath,
		TargetColumn:    def.TargetColumn,
		Hyperparameters: def.Config.HyperparametersFor(model),
	})
	if err != nil {
		result.Status = string(schema.JobStatusFailed)
		result.Error = err.Error()
		return result, err
	}
	result.JobID = sub.JobID
	x.rec.logf(ctx, "Training job %s submitted for %s, waiting for completion", sub.JobID, model)

	status, err := poller.Poll(ctx, x.poller, x.services.TrainingStatusURL(sub.JobID), stages.TrainingStatus.Finished)
	if err != nil {
		if errors.Is(err, poller.ErrTimeout) {
			result.Status = "timeout"
			x.rec.logf(ctx, "Training job %s for %s did not finish within %s", sub.JobID, model, x.poller.Timeout())
		} else {
			result.Status = string(schema.JobStatusFailed)
		}
		result.Error = err.Error()
		return result, err
	}

	result.Status = strings.ToLower(status.Status)
	result.ModelPath = status.ModelPath
	result.Metrics = status.Metrics
	result.Error = status.Error
	return result, nil
}

// evaluate scores every model whose training completed with a model path.
// Models that failed training are left out without error.
func (x *execution) evaluate(ctx context.Context) (schema.StepStatus, error) {
	def := x.job.Definition
	var candidates []schema.TrainingResult
	for _, r := range x.job.Artifacts.TrainingResults {
		if r.Evaluable() {
			candidates = append(candidates, r)
			continue
		}
		x.logger.Debug("model not evaluable", "model", r.ModelName, "training_status", r.Status)
	}
	if len(candidates) == 0 {
		x.rec.logf(ctx, "No trained models to evaluate")
		return schema.StepCompleted, nil
	}

	for _, c := range candidates {
		x.rec.logf(ctx, "Evaluating %s", c.ModelName)
		res, err := x.services.Evaluate(ctx, stages.EvaluateRequest{
			ModelPath:    c.ModelPath,
			DatasetPath:  x.job.Artifacts.CleanedDatasetPath,
			TargetColumn: def.TargetColumn,
		})
		if err != nil {
			x.metrics.modelResult(schema.StageEvaluation, string(schema.JobStatusFailed))
			x.rec.step(ctx, schema.StageEvaluation+":"+c.ModelName, schema.StepFailed)
			return "", fmt.Errorf("evaluating %s: %w", c.ModelName, err)
		}
		name := res.ModelName
		if name == "" {
			name = c.ModelName
		}
		x.rec.update(ctx, func(j *schema.Job) {
			j.Artifacts.EvaluationResults = append(j.Artifacts.EvaluationResults, schema.EvaluationResult{
				ModelName: name,
				ModelPath: c.ModelPath,
				Metrics:   res.Metrics,
			})
		})
		x.metrics.modelResult(schema.StageEvaluation, string(schema.JobStatusCompleted))
		x.rec.logf(ctx, "Evaluation of %s completed", name)
		x.rec.step(ctx, schema.StageEvaluation+":"+c.ModelName, schema.StepCompleted)
	}
	return schema.StepCompleted, nil
}

// finish moves the job to its terminal status exactly once and announces it.
func (x *execution) finish(ctx context.Context, err error) {
	now := x.now().UTC()
	if err != nil {
		if !x.job.Fail(err, now) {
			return
		}
		x.rec.terminal = true
		x.logger.Error("pipeline failed", "err", err)
		x.rec.logf(ctx, "Pipeline failed: %v", err)
	} else {
		if !x.job.Complete(now) {
			return
		}
		x.rec.terminal = true
		x.rec.logf(ctx, "Pipeline completed successfully")
	}
	x.metrics.finished(x.job.Status, now.Sub(x.job.StartTime))
	x.rec.done(err)
}

// classifyFailure maps a run error to the failure type carried on the
// completion event.
func classifyFailure(err error) schema.FailureType {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, poller.ErrTimeout):
		return schema.FailureTypePollTimeout
	case stages.IsStageError(err):
		return schema.FailureTypeStageCall
	default:
		return schema.FailureTypeInternal
	}
}

// recorder appends audit entries to the job and writes it through to the
// store. Store and publish failures are logged and otherwise ignored.
type recorder struct {
	job       *schema.Job
	store     store.Store
	publisher Publisher
	subject   string
	logger    *slog.Logger
	now       func() time.Time

	// retryAt is set after a failed write; earlier writes are skipped.
	retryAt  time.Time
	terminal bool
}

func (r *recorder) logf(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.job.Logs = append(r.job.Logs, r.now().UTC().Format(time.RFC3339)+" "+msg)
	r.logger.Info(msg)
	r.persist(ctx)
}

func (r *recorder) step(ctx context.Context, name string, status schema.StepStatus) {
	now := r.now().UTC()
	r.job.Steps = append(r.job.Steps, schema.Step{Name: name, Status: status, Timestamp: now})
	r.persist(ctx)
	r.publish(r.subject+".lifecycle", schema.PipelineLifecycleEvent{
		ExecutionID: r.job.ID,
		Step:        name,
		Status:      status,
		JobStatus:   r.job.Status,
		HappenedAt:  now.UnixMilli(),
	})
}

func (r *recorder) update(ctx context.Context, fn func(*schema.Job)) {
	fn(r.job)
	r.persist(ctx)
}

func (r *recorder) persist(ctx context.Context) {
	if !r.terminal && !r.retryAt.IsZero() && time.Now().Before(r.retryAt) {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := r.store.Put(ctx, r.job); err != nil {
		r.retryAt = time.Now().Add(persistCooldown)
		r.logger.Warn("persist execution failed", "err", err, "retry_after", persistCooldown)
		return
	}
	r.retryAt = time.Time{}
}

func (r *recorder) done(err error) {
	j := r.job
	evt := schema.PipelineDone{
		ExecutionID:       j.ID,
		DatasetID:         j.Summary().DatasetID,
		Status:            j.Status,
		ProcessingStart:   j.StartTime.UnixMilli(),
		TotalEvaluated:    len(j.Artifacts.EvaluationResults),
		EvaluationResults: j.Artifacts.EvaluationResults,
		Error:             j.Error,
		FailureType:       classifyFailure(err),
		HappenedAt:        r.now().UTC().UnixMilli(),
	}
	if j.EndTime != nil {
		evt.ProcessingEnd = j.EndTime.UnixMilli()
		evt.ProcessingTimeMs = j.EndTime.Sub(j.StartTime).Milliseconds()
	}
	for _, t := range j.Artifacts.TrainingResults {
		if t.Status == string(schema.JobStatusCompleted) {
			evt.TotalTrained++
		} else {
			evt.TotalFailed++
		}
	}
	r.publish(r.subject+".done", evt)
}

func (r *recorder) publish(subject string, v any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishJSON(subject, v); err != nil {
		r.logger.Warn("publish event failed", "subject", subject, "err", err)
	}
}
